package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/connect-cards/internal/repository"
)

// queueHealthService is the health service name reporting the card worker.
const queueHealthService = "connectcards.Queue"

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity and session storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := ctx.openDB(cmd.Context())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			dbStatus := "ok"
			saved := "unknown"
			if err := db.HealthCheck(cmd.Context(), timeout); err != nil {
				dbStatus = err.Error()
			} else {
				saved = savedCards(cmd.Context(), repository.NewCardRepository(db, ctx.logger), cfg.Org.OrgID)
			}
			sessionStatus := "none"
			store, err := ctx.sessionStore()
			if err == nil {
				stale, loadErr := store.Load(cmd.Context())
				switch {
				case loadErr != nil:
					sessionStatus = loadErr.Error()
				case stale != nil:
					sessionStatus = fmt.Sprintf("unfinished (%d cards)", stale.CardsScanned)
				}
			} else {
				sessionStatus = err.Error()
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
				{"Database (" + db.Dialect + ")", dbStatus},
				{"Saved cards", saved},
				{"Session", sessionStatus},
			}))
			if dbStatus != "ok" {
				return errors.New("database health check failed")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Ping timeout")
	return cmd
}

type cardCounter interface {
	CountByOrg(ctx context.Context, orgID string) (int, error)
}

// savedCards reports how many cards the organization has on record.
func savedCards(ctx context.Context, cards cardCounter, orgID string) string {
	if orgID == "" {
		return "no org configured"
	}
	n, err := cards.CountByOrg(ctx, orgID)
	if err != nil {
		return err.Error()
	}
	return strconv.Itoa(n) + " (org " + orgID + ")"
}

// healthServer exposes grpc.health.v1 while cards are processing.
type healthServer struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
	logger *slog.Logger
}

func startHealthServer(addr string, logger *slog.Logger) (*healthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, hs)
	// Reflection for grpcurl
	reflection.Register(grpcServer)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(queueHealthService, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("health.serve_failed", "error", err)
		}
	}()
	logger.Info("health.listening", "addr", lis.Addr().String())
	return &healthServer{grpc: grpcServer, health: hs, lis: lis, logger: logger}, nil
}

func (h *healthServer) stop() {
	if h == nil {
		return
	}
	h.health.Shutdown()
	h.grpc.GracefulStop()
	h.logger.Info("health.stopped")
}
