package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Config for the OpenAI-compatible vision client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string // must accept image input
	Temperature float32
	Timeout     time.Duration
	// ImageDetail is sent with every image part: low, high or auto.
	ImageDetail     string
	LenientOptional bool
}

var imageDetails = map[string]bool{"low": true, "high": true, "auto": true}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	// handwriting on small cards needs the full-resolution tiles
	if !imageDetails[cfg.ImageDetail] {
		cfg.ImageDetail = "high"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}
