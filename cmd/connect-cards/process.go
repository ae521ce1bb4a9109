package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/capture"
	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/queue"
	"github.com/joseph-ayodele/connect-cards/internal/scan"
)

type processOptions struct {
	dir        string
	recursive  bool
	cardType   string
	location   string
	batchName  string
	resume     bool
	discard    bool
	retries    int
	retryDelay time.Duration
	exportPath string
	healthAddr string
	watch      bool
	settle     time.Duration
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var opts processOptions
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Queue every card in a directory and process it",
		Long: "Walks a directory of card photos, pairing <name>_back.<ext> with <name>.<ext>,\n" +
			"and drives each card through upload, extraction, normalization and save.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.resume && opts.discard {
				return errors.New("--resume and --discard are mutually exclusive")
			}
			return runProcess(cmd, ctx, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.dir, "dir", "d", "", "Directory of card images")
	f.BoolVarP(&opts.recursive, "recursive", "r", false, "Walk subdirectories")
	f.StringVar(&opts.cardType, "card-type", "", "single or double (default: double when any back image is present)")
	f.StringVar(&opts.location, "location", "", "Location ID (default from config)")
	f.StringVar(&opts.batchName, "batch", "", "Create a batch with this name for the session")
	f.BoolVar(&opts.resume, "resume", false, "Resume an unfinished session without asking")
	f.BoolVar(&opts.discard, "discard", false, "Discard an unfinished session without asking")
	f.IntVar(&opts.retries, "retries", 2, "Retry rounds for retryable failures")
	f.DurationVar(&opts.retryDelay, "retry-delay", 5*time.Second, "Wait before each retry round")
	f.StringVar(&opts.exportPath, "export", "", "Write an XLSX session summary to this path")
	f.StringVar(&opts.healthAddr, "health-addr", "", "Serve gRPC health checks on this address while processing")
	f.BoolVarP(&opts.watch, "watch", "w", false, "Keep watching the directory for new cards until interrupted")
	f.DurationVar(&opts.settle, "settle", 750*time.Millisecond, "With --watch, how long a new image must stay unchanged before it is queued")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func runProcess(cmd *cobra.Command, cctx *commandContext, opts processOptions) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := cctx.logger
	out := cmd.OutOrStdout()

	// In watch mode the first interrupt only ends watching; see watchCards.
	sigs := []os.Signal{os.Interrupt, syscall.SIGTERM}
	if opts.watch {
		sigs = sigs[1:]
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), sigs...)
	defer stop()

	captureOpts := capture.Options{SkipHidden: true, Recursive: opts.recursive}
	var watcher *capture.Watcher
	if opts.watch {
		if watcher, err = capture.NewWatcher(opts.dir, capture.WatchOptions{Options: captureOpts, Settle: opts.settle}, logger); err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
	}

	cards, skipped, stats, err := capture.ScanDirectory(opts.dir, captureOpts)
	if err != nil {
		return err
	}
	if watcher != nil {
		watcher.MarkQueued(cards)
	}
	for _, s := range skipped {
		logger.Warn("capture.skipped", "path", s.Path, "reason", s.Reason)
	}
	logger.Info("capture.scanned", "dir", opts.dir, "matched", stats.Matched, "cards", stats.Cards)

	a, err := buildApp(ctx, cctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(logger)

	if err := recoverSession(ctx, cmd, a.scan, opts); err != nil {
		return err
	}
	if len(cards) == 0 && watcher == nil {
		fmt.Fprintln(out, "No card images found.")
		return nil
	}

	addr := opts.healthAddr
	if addr == "" {
		addr = cfg.Server.HealthAddr
	}
	if addr != "" {
		hs, err := startHealthServer(addr, logger)
		if err != nil {
			return err
		}
		defer hs.stop()
	}

	names := newNameBook()
	var bar *cardProgress
	if errOut := cmd.ErrOrStderr(); isTerminalWriter(errOut) {
		bar = newCardProgress(errOut, a.queue.Stats)
	}
	unsubscribe := a.queue.Subscribe(progressPrinter(out, names, bar))
	defer unsubscribe()

	if err := a.queue.Start(ctx); err != nil {
		return err
	}

	cardType := constants.ParseCardType(opts.cardType)
	if opts.cardType == "" {
		cardType = constants.CardTypeSingle
		for _, c := range cards {
			if c.Back != nil {
				cardType = constants.CardTypeDouble
				break
			}
		}
	}
	location := opts.location
	if location == "" {
		location = cfg.Org.LocationID
	}

	addCard := func(c capture.Card) error {
		front, back, err := capture.Load(c)
		if err != nil {
			logger.Warn("capture.load_failed", "card", c.Name(), "error", err)
			return nil
		}
		item, err := a.scan.AddCard(ctx, scan.CardInput{
			Front:      front,
			Back:       back,
			CardType:   cardType,
			LocationID: location,
			BatchName:  opts.batchName,
		})
		if err != nil {
			return fmt.Errorf("add card %s: %w", c.Name(), err)
		}
		names.set(item.ID, c.Name())
		return nil
	}
	for _, c := range cards {
		if err := addCard(c); err != nil {
			return err
		}
	}
	if watcher != nil {
		fmt.Fprintf(out, "Watching %s for new cards. Press Ctrl-C to finish.\n", opts.dir)
		if err := watchCards(ctx, watcher, addCard); err != nil {
			return err
		}
	}

	if err := a.queue.WaitIdle(ctx); err != nil {
		return err
	}
	for round := 1; round <= opts.retries && hasRetryable(a.scan.Items()); round++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.retryDelay):
		}
		fmt.Fprintf(out, "Retry round %d: %d card(s)\n", round, retryFailed(a.scan))
		if err := a.queue.WaitIdle(ctx); err != nil {
			return err
		}
	}

	bar.finish()
	fmt.Fprintln(out, renderStats(a.scan.Stats()))
	if failed := renderFailures(a.scan.Items(), names); failed != "" {
		fmt.Fprintln(out, failed)
	}

	sum, err := a.scan.Finish(ctx)
	if err != nil {
		return err
	}
	if opts.exportPath != "" {
		data, err := a.exporter.SessionXLSX(ctx, sum)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.exportPath, data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(out, "Summary written to %s\n", filepath.Clean(opts.exportPath))
	}
	return nil
}

// watchCards adds cards from the watcher until the first interrupt. The
// interrupt handler is removed on return, so a second interrupt kills the
// process and leaves the session stored for recovery.
func watchCards(ctx context.Context, w *capture.Watcher, add func(capture.Card) error) error {
	watchCtx, stopWatch := signal.NotifyContext(ctx, os.Interrupt)
	defer stopWatch()

	found := make(chan capture.Card)
	done := make(chan error, 1)
	go func() { done <- w.Run(watchCtx, found) }()
	for {
		select {
		case c := <-found:
			if err := add(c); err != nil {
				stopWatch()
				<-done
				return err
			}
		case err := <-done:
			if err != nil {
				return err
			}
			return ctx.Err()
		}
	}
}

// recoverSession resolves a stale session before any card is added.
func recoverSession(ctx context.Context, cmd *cobra.Command, svc *scan.Service, opts processOptions) error {
	stale, err := svc.Open(ctx)
	if err != nil || stale == nil {
		return err
	}
	choice := choiceNone
	switch {
	case opts.resume:
		choice = choiceResume
	case opts.discard:
		choice = choiceDiscard
	case isInteractive(cmd.InOrStdin()):
		if choice, err = promptRecovery(cmd.InOrStdin(), cmd.OutOrStdout(), stale); err != nil {
			return err
		}
	default:
		return errRecoveryUndecided
	}
	if choice == choiceResume {
		_, err = svc.Resume(ctx)
		return err
	}
	return svc.Discard(ctx)
}

func retryable(it queue.Item) bool {
	return it.Status == constants.StatusFailed && it.Error != nil && it.Error.Retryable
}

func hasRetryable(items []queue.Item) bool {
	for _, it := range items {
		if retryable(it) {
			return true
		}
	}
	return false
}

// retryFailed retries every failed card whose error is retryable.
func retryFailed(svc *scan.Service) int {
	n := 0
	for _, it := range svc.Items() {
		if !retryable(it) {
			continue
		}
		if err := svc.Retry(it.ID); err == nil {
			n++
		}
	}
	return n
}

type nameBook struct {
	mu    sync.Mutex
	names map[uuid.UUID]string
}

func newNameBook() *nameBook { return &nameBook{names: map[uuid.UUID]string{}} }

func (b *nameBook) set(id uuid.UUID, name string) {
	b.mu.Lock()
	b.names[id] = name
	b.mu.Unlock()
}

func (b *nameBook) get(id uuid.UUID) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.names[id]; ok {
		return n
	}
	return id.String()[:8]
}

// progressPrinter prints a line per settled card and keeps bar, if any, current.
func progressPrinter(out io.Writer, names *nameBook, bar *cardProgress) queue.Subscriber {
	var mu sync.Mutex
	return func(ev queue.Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Settled() {
			line := fmt.Sprintf("%-10s %s", ev.Status, names.get(ev.ItemID))
			switch {
			case ev.Err != nil:
				line += ": " + ev.Err.Message
			case ev.Status == constants.StatusDuplicate:
				line += ": " + common.UserMessage(common.CodeDuplicateContent)
			}
			bar.clear()
			fmt.Fprintln(out, line)
		}
		bar.update()
	}
}

func renderStats(s queue.Stats) string {
	rows := [][]string{
		{"Total", strconv.Itoa(s.Total)},
		{"Complete", strconv.Itoa(s.Complete)},
		{"Duplicate", strconv.Itoa(s.Duplicate)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Pending", strconv.Itoa(s.Pending)},
	}
	return renderTable([]string{"Cards", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderFailures(items []queue.Item, names *nameBook) string {
	var rows [][]string
	for _, it := range items {
		if it.Status != constants.StatusFailed || it.Error == nil {
			continue
		}
		rows = append(rows, []string{
			names.get(it.ID),
			it.Error.Code,
			it.Error.Stage,
			strconv.Itoa(it.RetryCount),
			it.Error.Message,
		})
	}
	if len(rows) == 0 {
		return ""
	}
	return renderTable(
		[]string{"Card", "Error", "Stage", "Retries", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
