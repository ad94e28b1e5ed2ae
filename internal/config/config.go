// Package config turns a loaded configuration file into typed settings
// for the schemaflow service and CLI.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	fconfig "github.com/randalmurphal/schemaflow/pkg/flowgraph/config"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/llm"
)

// EnvAnthropicAPIKey overrides llm.api_key when set.
const EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"

type Settings struct {
	Server    ServerSettings
	Storage   StorageSettings
	Postgres  PostgresSettings
	LLM       LLMSettings
	Workflow  WorkflowSettings
	Jobs      JobSettings
	Stream    StreamSettings
	Log       LogSettings
	Telemetry bool
}

type ServerSettings struct {
	Addr string
	// RequestTimeout bounds a whole chat request, streaming included.
	RequestTimeout time.Duration
}

// StorageSettings locate the SQLite files. ":memory:" keeps everything
// in process.
type StorageSettings struct {
	Path           string
	CheckpointPath string
}

type PostgresSettings struct {
	DSN              string
	StatementTimeout time.Duration
}

type LLMSettings struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

type WorkflowSettings struct {
	MaxRetries     int
	RecursionLimit int
	WebSearch      bool
}

type JobSettings struct {
	Workers   int
	Retention time.Duration
}

type StreamSettings struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	ChunkDelay   time.Duration
}

type LogSettings struct {
	Level  string
	Format string
}

// Defaults returns the settings used for every missing key.
func Defaults() Settings {
	return Settings{
		Server:   ServerSettings{Addr: ":8080", RequestTimeout: 5 * time.Minute},
		Storage:  StorageSettings{Path: "schemaflow.db", CheckpointPath: "schemaflow-checkpoints.db"},
		Postgres: PostgresSettings{StatementTimeout: 30 * time.Second},
		LLM:      LLMSettings{Model: llm.DefaultAnthropicModel, MaxTokens: 4096},
		Workflow: WorkflowSettings{MaxRetries: 3, RecursionLimit: 50},
		Jobs:     JobSettings{Workers: 4, Retention: time.Hour},
		Stream:   StreamSettings{PollInterval: 3 * time.Second, PollTimeout: 3 * time.Minute, ChunkDelay: 20 * time.Millisecond},
		Log:      LogSettings{Level: "info", Format: "text"},
	}
}

// Load reads path (YAML, JSON or TOML) and applies environment
// overrides. An empty path gives the defaults.
func Load(path string) (Settings, error) {
	cfg := fconfig.New(nil)
	if path != "" {
		var err error
		cfg, err = fconfig.FromFile(path)
		if err != nil {
			return Settings{}, err
		}
	}
	s := FromConfig(cfg)
	if key := os.Getenv(EnvAnthropicAPIKey); key != "" {
		s.LLM.APIKey = key
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// FromConfig reads settings from cfg, falling back to Defaults.
func FromConfig(cfg fconfig.Config) Settings {
	d := Defaults()
	return Settings{
		Server: ServerSettings{
			Addr:           cfg.String("server.addr", d.Server.Addr),
			RequestTimeout: cfg.Duration("server.request_timeout", d.Server.RequestTimeout),
		},
		Storage: StorageSettings{
			Path:           cfg.String("storage.path", d.Storage.Path),
			CheckpointPath: cfg.String("storage.checkpoint_path", d.Storage.CheckpointPath),
		},
		Postgres: PostgresSettings{
			DSN:              cfg.String("postgres.dsn", d.Postgres.DSN),
			StatementTimeout: cfg.Duration("postgres.statement_timeout", d.Postgres.StatementTimeout),
		},
		LLM: LLMSettings{
			APIKey:    cfg.String("llm.api_key", d.LLM.APIKey),
			Model:     cfg.String("llm.model", d.LLM.Model),
			BaseURL:   cfg.String("llm.base_url", d.LLM.BaseURL),
			MaxTokens: cfg.Int("llm.max_tokens", d.LLM.MaxTokens),
		},
		Workflow: WorkflowSettings{
			MaxRetries:     cfg.Int("workflow.max_retries", d.Workflow.MaxRetries),
			RecursionLimit: cfg.Int("workflow.recursion_limit", d.Workflow.RecursionLimit),
			WebSearch:      cfg.Bool("workflow.web_search", d.Workflow.WebSearch),
		},
		Jobs: JobSettings{
			Workers:   cfg.Int("jobs.workers", d.Jobs.Workers),
			Retention: cfg.Duration("jobs.retention", d.Jobs.Retention),
		},
		Stream: StreamSettings{
			PollInterval: cfg.Duration("stream.poll_interval", d.Stream.PollInterval),
			PollTimeout:  cfg.Duration("stream.poll_timeout", d.Stream.PollTimeout),
			ChunkDelay:   cfg.Duration("stream.chunk_delay", d.Stream.ChunkDelay),
		},
		Log: LogSettings{
			Level:  cfg.String("log.level", d.Log.Level),
			Format: cfg.String("log.format", d.Log.Format),
		},
		Telemetry: cfg.Bool("telemetry.enabled", d.Telemetry),
	}
}

// Validate reports every out-of-range setting.
func (s Settings) Validate() error {
	var errs []error
	if s.Workflow.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("workflow.max_retries must be at least 1, got %d", s.Workflow.MaxRetries))
	}
	if s.Workflow.RecursionLimit < 1 {
		errs = append(errs, fmt.Errorf("workflow.recursion_limit must be at least 1, got %d", s.Workflow.RecursionLimit))
	}
	if s.Jobs.Workers < 1 {
		errs = append(errs, fmt.Errorf("jobs.workers must be at least 1, got %d", s.Jobs.Workers))
	}
	if s.Stream.PollInterval <= 0 || s.Stream.PollTimeout < s.Stream.PollInterval {
		errs = append(errs, fmt.Errorf("stream.poll_timeout (%s) must be at least stream.poll_interval (%s)",
			s.Stream.PollTimeout, s.Stream.PollInterval))
	}
	if _, err := parseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", s.Log.Format))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger writing to w.
func (l LogSettings) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(l.Level)
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
