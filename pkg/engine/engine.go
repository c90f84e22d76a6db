package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/chat"
	"github.com/stapel-ai/stapel/pkg/dispatch"
	"github.com/stapel-ai/stapel/pkg/observability"
	"github.com/stapel-ai/stapel/pkg/prompt"
	"github.com/stapel-ai/stapel/pkg/provider"
	"github.com/stapel-ai/stapel/pkg/stream"
	"github.com/stapel-ai/stapel/pkg/transport"
)

// Options holds engine-level defaults applied when a request leaves the
// corresponding field unset.
type Options struct {
	DefaultModel string
	Timeout      time.Duration
	MaxWorkers   int
}

// Engine implements transport.BatchRunner and transport.StreamRunner on
// top of a backend provider.
type Engine struct {
	provider   provider.Provider
	dispatcher *dispatch.Dispatcher
	translator *stream.Translator
	validator  *chat.Validator
	aggregator *chat.Aggregator
	store      transport.RunStore // nil in stateless deployments
	logger     *slog.Logger
	opts       Options
}

var (
	_ transport.BatchRunner  = (*Engine)(nil)
	_ transport.StreamRunner = (*Engine)(nil)
)

// New creates an Engine. The store may be nil, in which case runs are
// never persisted. A nil logger uses slog.Default.
func New(p provider.Provider, store transport.RunStore, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	validator := chat.NewValidator(nil)
	return &Engine{
		provider:   p,
		dispatcher: dispatch.New(logger),
		translator: stream.NewTranslator(logger),
		validator:  validator,
		aggregator: chat.NewAggregator(validator, logger),
		store:      store,
		logger:     logger,
		opts:       opts,
	}
}

// RunBatch turns the request into completion tasks, fans them out to the
// backend, and writes the finished run.
//
// In completion mode the template renders one prompt per row; empty rows
// (all placeholder fields null) skip the backend and keep a nil
// completion at their index. In conversational mode the rows are
// aggregated into chat units and each unit becomes one task, so the
// results are indexed by unit ordinal rather than input row.
func (e *Engine) RunBatch(ctx context.Context, req *api.BatchRequest, w transport.RunWriter) error {
	if apiErr := api.ValidateBatchRequest(req); apiErr != nil {
		return apiErr
	}

	model := req.Model
	if model == "" {
		model = e.opts.DefaultModel
	}

	var (
		tasks     []dispatch.Task
		batchSize int
		emptyRows int
		inv       provider.Invoker
		err       error
	)
	if req.Conversational() {
		tasks, batchSize, err = e.conversationalTasks(req.Rows)
		inv = provider.ChatTurn(e.provider, model)
	} else {
		tasks, batchSize, emptyRows, err = e.completionTasks(req)
		inv = provider.SingleTurn(e.provider, model)
	}
	if err != nil {
		observability.BatchRunsTotal.WithLabelValues("failed").Inc()
		return err
	}

	dopts := dispatch.Options{
		Timeout:    e.opts.Timeout,
		MaxWorkers: e.opts.MaxWorkers,
	}
	if req.TimeoutSeconds > 0 {
		dopts.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if req.MaxWorkers > 0 {
		dopts.MaxWorkers = req.MaxWorkers
	}

	start := time.Now()
	res, err := e.dispatcher.Dispatch(ctx, batchSize, tasks, inv, dopts)
	if err != nil {
		observability.BatchRunsTotal.WithLabelValues("failed").Inc()
		return err
	}

	status := api.RunStatusCompleted
	if res.TimedOut {
		status = api.RunStatusPartial
	}

	run := &api.Run{
		ID:            api.NewRunID(),
		Object:        "batch_run",
		Status:        status,
		Model:         model,
		Template:      req.Template,
		RowCount:      len(req.Rows),
		EmptyRowCount: emptyRows,
		SalvagedCount: res.SalvagedCount,
		TimedOut:      res.TimedOut,
		Results:       res.Rows,
		CreatedAt:     start.Unix(),
		DurationMS:    time.Since(start).Milliseconds(),
	}

	observability.BatchRunsTotal.WithLabelValues(string(status)).Inc()
	observability.BatchRunDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if req.Stored() && e.store != nil {
		// Persistence failures do not fail the run; the caller still gets
		// their results.
		if err := e.store.SaveRun(ctx, run); err != nil {
			e.logger.Error("saving run failed", "run_id", run.ID, "error", err.Error())
		}
	}

	return w.WriteRun(ctx, run)
}

// completionTasks renders one templated prompt per non-empty row.
func (e *Engine) completionTasks(req *api.BatchRequest) ([]dispatch.Task, int, int, error) {
	tmpl, err := prompt.Compile(req.Template)
	if err != nil {
		return nil, 0, 0, err
	}

	fill := prompt.Fill(tmpl, req.Rows)

	var tasks []dispatch.Task
	for i, p := range fill.Prompts {
		if fill.IsEmpty(i) {
			continue
		}
		tasks = append(tasks, dispatch.Task{Row: i, Prompt: p})
	}
	return tasks, len(req.Rows), len(fill.EmptyRows), nil
}

// conversationalTasks aggregates message rows into chat units, one task
// per unit. The task prompt carries the unit's messages JSON-encoded for
// the ChatTurn invoker.
func (e *Engine) conversationalTasks(rows api.Batch) ([]dispatch.Task, int, error) {
	chats, err := e.aggregator.Aggregate(rows)
	if err != nil {
		return nil, 0, err
	}

	tasks := make([]dispatch.Task, len(chats))
	for i, c := range chats {
		msgs := make([]provider.Message, len(c.Messages))
		for j, m := range c.Messages {
			msgs[j] = provider.Message{Role: string(m.Role), Content: m.Content}
		}
		payload, err := json.Marshal(msgs)
		if err != nil {
			return nil, 0, api.NewServerError("encoding chat unit: " + err.Error())
		}
		tasks[i] = dispatch.Task{Row: i, Prompt: string(payload)}
	}
	return tasks, len(chats), nil
}

// RunStream validates the conversation, opens a chunk feed against the
// backend, and translates it into SSE frames.
func (e *Engine) RunStream(ctx context.Context, req *api.StreamRequest, w stream.FrameWriter) error {
	if apiErr := api.ValidateStreamRequest(req); apiErr != nil {
		return apiErr
	}
	if err := e.validator.Validate(req.Messages); err != nil {
		return err
	}

	model := req.Model
	if model == "" {
		model = e.opts.DefaultModel
	}

	preq := provider.Request{Model: model}
	for _, m := range req.Messages {
		preq.Messages = append(preq.Messages, provider.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	feed, err := e.openFeed(ctx, preq)
	if err != nil {
		return err
	}

	return e.translator.Run(ctx, feed, w)
}

// StreamFeeder is implemented by providers that support native streaming.
type StreamFeeder interface {
	StreamFeed(ctx context.Context, req provider.Request) (stream.Feed, error)
}

// openFeed opens a streaming feed, preferring the provider's native
// streaming support and falling back to a single-chunk feed built from a
// blocking completion.
func (e *Engine) openFeed(ctx context.Context, req provider.Request) (stream.Feed, error) {
	if feeder, ok := e.provider.(StreamFeeder); ok {
		return feeder.StreamFeed(ctx, req)
	}
	return completeFeed(e.provider, req), nil
}

// completeFeed adapts a blocking completion into a one-chunk feed.
func completeFeed(p provider.Provider, req provider.Request) stream.Feed {
	done := false
	return stream.FeedFunc(func(ctx context.Context) (stream.Chunk, error) {
		if done {
			return stream.Chunk{}, io.EOF
		}
		done = true
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return stream.Chunk{}, err
		}
		return stream.Chunk{Kind: stream.KindOutput, Output: resp.Text}, nil
	})
}
