package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/randalmurphal/schemaflow/internal/jobs"
)

// Streaming defaults.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 3 * time.Minute
	DefaultChunkDelay   = 20 * time.Millisecond

	maxChunkWords = 12
)

// ChunkType tags a Chunk.
type ChunkType string

const (
	ChunkText   ChunkType = "text"
	ChunkError  ChunkType = "error"
	ChunkCustom ChunkType = "custom"
)

// Phases reported by custom chunks.
const (
	PhaseValidationStart       = "validation-start"
	PhaseValidationResult      = "validation-result"
	PhaseAnswerGenerationStart = "answer-generation-start"
	PhaseJobEnqueued           = "job-enqueued"
)

// Chunk is one item of a streamed run.
type Chunk struct {
	Type    ChunkType `json:"type"`
	Content string    `json:"content"`
}

// PhaseEvent is the JSON content of a custom chunk.
type PhaseEvent struct {
	Phase       string `json:"phase"`
	Valid       *bool  `json:"valid,omitempty"`
	Error       string `json:"error,omitempty"`
	JobID       string `json:"jobId,omitempty"`
	ExternalID  string `json:"externalId,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

func customChunk(ev PhaseEvent) Chunk {
	b, _ := json.Marshal(ev)
	return Chunk{Type: ChunkCustom, Content: string(b)}
}

// StreamOptions tune one streamed run. Zero values take the defaults.
type StreamOptions struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	ChunkDelay   time.Duration
	// DetachAfterEnqueue ends the stream after the job-enqueued chunk;
	// the caller polls the job itself.
	DetachAfterEnqueue bool
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.ChunkDelay < 0 {
		o.ChunkDelay = 0
	} else if o.ChunkDelay == 0 {
		o.ChunkDelay = DefaultChunkDelay
	}
	return o
}

// StreamingWorkflow runs chat turns as background jobs and streams their
// progress and final answer.
type StreamingWorkflow struct {
	queue  jobs.Queue[Params, State]
	logger *slog.Logger
}

// NewStreamingWorkflow streams runs executed through queue.
func NewStreamingWorkflow(queue jobs.Queue[Params, State], logger *slog.Logger) *StreamingWorkflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamingWorkflow{queue: queue, logger: logger}
}

// JobHandler adapts e.Run to a job queue handler.
func JobHandler(e *Executor) jobs.Handler[Params, State] {
	return e.Run
}

// StreamRun is one streamed run. Chunks may be iterated once.
type StreamRun struct {
	w      *StreamingWorkflow
	ctx    context.Context
	params Params
	opts   StreamOptions

	handle jobs.Handle
	result State
	err    error
	done   bool
}

// Start prepares a streamed run. Nothing happens until Chunks is iterated.
func (w *StreamingWorkflow) Start(ctx context.Context, p Params, opts StreamOptions) *StreamRun {
	return &StreamRun{w: w, ctx: ctx, params: p, opts: opts.withDefaults()}
}

// Result is the final state and any error that ended the stream. It is
// only meaningful once Chunks has finished; a detached or abandoned run
// returns a zero state.
func (r *StreamRun) Result() (State, error) {
	return r.result, r.err
}

// Job is the background job handle, empty before the job is enqueued.
func (r *StreamRun) Job() jobs.Handle {
	return r.handle
}

// Chunks yields the run's phases, then the final response as text. A
// consumer that stops early does not cancel the background job.
func (r *StreamRun) Chunks() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		if r.done {
			return
		}
		r.done = true
		r.err = r.stream(yield)
	}
}

var errConsumerStopped = errors.New("stream consumer stopped")

func (r *StreamRun) stream(yield func(Chunk) bool) error {
	logger := r.w.logger.With("design_session_id", r.params.DesignSessionID)

	if !yield(customChunk(PhaseEvent{Phase: PhaseValidationStart})) {
		return errConsumerStopped
	}
	verr := r.params.validate()
	valid := verr == nil
	result := PhaseEvent{Phase: PhaseValidationResult, Valid: &valid}
	if verr != nil {
		result.Error = verr.Error()
	}
	if !yield(customChunk(result)) {
		return errConsumerStopped
	}
	if verr != nil {
		yield(Chunk{Type: ChunkError, Content: verr.Error()})
		return verr
	}

	if !yield(customChunk(PhaseEvent{Phase: PhaseAnswerGenerationStart})) {
		return errConsumerStopped
	}
	handle, err := r.w.queue.Enqueue(r.ctx, r.params)
	if err != nil {
		err = fmt.Errorf("enqueue workflow job: %w", err)
		yield(Chunk{Type: ChunkError, Content: err.Error()})
		return err
	}
	r.handle = handle
	logger.Info("workflow job enqueued", "job_id", handle.ID)
	if !yield(customChunk(PhaseEvent{
		Phase:       PhaseJobEnqueued,
		JobID:       handle.ID,
		ExternalID:  handle.ExternalID,
		AccessToken: handle.AccessToken,
	})) {
		return errConsumerStopped
	}
	if r.opts.DetachAfterEnqueue {
		return nil
	}

	final, err := r.poll(handle.ID)
	if err != nil {
		logger.Error("workflow job polling failed", "job_id", handle.ID, "error", err)
		yield(Chunk{Type: ChunkError, Content: err.Error()})
		return err
	}
	r.result = final

	if final.Error != nil {
		if !yield(Chunk{Type: ChunkError, Content: final.Error.Message}) {
			return errConsumerStopped
		}
	}
	for i, piece := range textChunks(final.FinalResponse) {
		if i > 0 && !r.sleep(r.opts.ChunkDelay) {
			return r.ctx.Err()
		}
		if !yield(Chunk{Type: ChunkText, Content: piece}) {
			return errConsumerStopped
		}
	}
	return nil
}

// poll waits for the job to finish. A vanished job aborts immediately;
// other status errors are retried until the poll timeout.
func (r *StreamRun) poll(id string) (State, error) {
	backoff := retry.WithMaxDuration(r.opts.PollTimeout, retry.NewConstant(r.opts.PollInterval))

	var final State
	err := retry.Do(r.ctx, backoff, func(ctx context.Context) error {
		st, err := r.w.queue.Status(ctx, id)
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			return err
		case err != nil:
			r.w.logger.Warn("workflow job status failed, retrying", "job_id", id, "error", err)
			return retry.RetryableError(err)
		}
		switch st.State {
		case jobs.StateCompleted:
			final = st.Result
			return nil
		case jobs.StateFailed:
			return fmt.Errorf("workflow job %s failed: %s", id, st.Error)
		default:
			return retry.RetryableError(fmt.Errorf("workflow job %s is %s", id, st.State))
		}
	})
	if err != nil {
		return State{}, err
	}
	return final, nil
}

func (r *StreamRun) sleep(d time.Duration) bool {
	if d <= 0 {
		return r.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// textChunks splits text into sentences, and long sentences into runs of
// words. Concatenating the chunks gives back the text.
func textChunks(text string) []string {
	var chunks []string
	for _, sentence := range sentences(text) {
		words := strings.SplitAfter(sentence, " ")
		if len(words) <= maxChunkWords {
			chunks = append(chunks, sentence)
			continue
		}
		for len(words) > 0 {
			n := min(maxChunkWords, len(words))
			chunks = append(chunks, strings.Join(words[:n], ""))
			words = words[n:]
		}
	}
	return chunks
}

func sentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		end := c == '\n' ||
			((c == '.' || c == '!' || c == '?') && i+1 < len(text) && text[i+1] == ' ')
		if !end {
			continue
		}
		if c != '\n' {
			i++
		}
		out = append(out, text[start:i+1])
		start = i + 1
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
