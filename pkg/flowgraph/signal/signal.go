// Package signal delivers fire-and-forget messages to running graph runs.
//
// A Dispatcher maps signal names to handlers. Send runs the handler for
// the signal's name right away and records the outcome on the signal:
//
//	d := signal.NewDispatcher(logger)
//	d.Register("cancel", func(ctx context.Context, sig *signal.Signal) error {
//	    return runs.Cancel(sig.RunID, sig.Reason)
//	})
//	err := d.Send(ctx, signal.New("cancel", runID, "user pressed stop"))
package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoHandler     = errors.New("no handler for signal")
	ErrInvalidSignal = errors.New("invalid signal")
)

// Status is where a signal is in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Signal is a message addressed to one run.
type Signal struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RunID  string `json:"runId"`
	Reason string `json:"reason,omitempty"`

	Status      Status     `json:"status"`
	SentAt      time.Time  `json:"sentAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// New returns a pending signal with a generated ID.
func New(name, runID, reason string) *Signal {
	return &Signal{
		ID:     "sig-" + uuid.NewString()[:8],
		Name:   name,
		RunID:  runID,
		Reason: reason,
		Status: StatusPending,
		SentAt: time.Now().UTC(),
	}
}

func (s *Signal) validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("%w: name is required", ErrInvalidSignal))
	}
	if s.RunID == "" {
		errs = append(errs, fmt.Errorf("%w: run id is required", ErrInvalidSignal))
	}
	return errors.Join(errs...)
}

// Handler acts on a signal. Errors mark the signal failed and are
// returned from Send.
type Handler func(ctx context.Context, sig *Signal) error

// Dispatcher routes signals to handlers by name. Safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewDispatcher returns a dispatcher with no handlers.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: make(map[string]Handler), logger: logger}
}

// Register adds the handler for name. Each name has at most one handler.
func (d *Dispatcher) Register(name string, h Handler) error {
	if name == "" {
		return errors.New("signal name is required")
	}
	if h == nil {
		return errors.New("handler is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("handler for signal %q already registered", name)
	}
	d.handlers[name] = h
	return nil
}

// Names returns the registered signal names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Send validates sig, runs its handler and updates its status.
func (d *Dispatcher) Send(ctx context.Context, sig *Signal) error {
	if err := sig.validate(); err != nil {
		return err
	}

	d.mu.RLock()
	h, ok := d.handlers[sig.Name]
	d.mu.RUnlock()

	logger := d.logger.With("signal_id", sig.ID, "signal_name", sig.Name, "run_id", sig.RunID)
	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrNoHandler, sig.Name)
	} else {
		err = h(ctx, sig)
	}

	now := time.Now().UTC()
	sig.ProcessedAt = &now
	if err != nil {
		sig.Status = StatusFailed
		sig.Error = err.Error()
		logger.Warn("signal failed", "error", err)
		return err
	}
	sig.Status = StatusProcessed
	logger.Info("signal processed")
	return nil
}
