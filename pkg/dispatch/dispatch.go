package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/observability"
	"github.com/stapel-ai/stapel/pkg/provider"
)

// SentinelText is the completion substituted for rows still pending when
// the dispatch deadline fires.
const SentinelText = "I'm sorry! I couldn't come up with a response in time. Please try again."

// Defaults applied when Options leaves a field zero.
const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxWorkers = 8
)

// Task pairs a batch row index with its rendered prompt. Rows without a
// task (empty rows) keep a nil Text in the results.
type Task struct {
	Row    int
	Prompt string
}

// Options tunes a single dispatch.
type Options struct {
	// Timeout bounds how long the dispatcher waits for the whole batch.
	Timeout time.Duration

	// MaxWorkers caps concurrent backend calls. Zero means DefaultMaxWorkers.
	MaxWorkers int
}

// Result is the outcome of one dispatch.
type Result struct {
	// Rows has one entry per batch row, in row order.
	Rows []api.RowResult

	// TimedOut reports whether the deadline fired before all tasks finished.
	TimedOut bool

	// SalvagedCount is the number of rows recovered from parse errors.
	SalvagedCount int
}

// Dispatcher runs completion tasks concurrently against an Invoker.
type Dispatcher struct {
	logger *slog.Logger
}

// New creates a Dispatcher. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

type outcome struct {
	row      int
	text     string
	salvaged bool
	err      error
}

// Dispatch runs the given tasks against inv and returns one result slot
// per batch row.
//
// Parse errors from the backend are salvaged once per task by extracting
// the model text embedded in the error message. Any other error aborts
// the dispatch immediately and the partial results are discarded. When
// the deadline fires, exactly one pending task receives SentinelText and
// the rest stay nil; workers already running are not cancelled, their
// late results are simply dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, batchSize int, tasks []Task, inv provider.Invoker, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if maxWorkers > len(tasks) && len(tasks) > 0 {
		maxWorkers = len(tasks)
	}

	res := &Result{Rows: make([]api.RowResult, batchSize)}
	for i := range res.Rows {
		res.Rows[i] = api.RowResult{Index: i}
	}
	if len(tasks) == 0 {
		return res, nil
	}

	outcomes := make(chan outcome, len(tasks))
	sem := make(chan struct{}, maxWorkers)

	for _, t := range tasks {
		go func(t Task) {
			sem <- struct{}{}
			defer func() { <-sem }()

			observability.DispatchWorkersActive.Inc()
			defer observability.DispatchWorkersActive.Dec()

			text, err := inv.Invoke(ctx, t.Prompt)
			if err != nil {
				if recovered, ok := Salvage(err); ok {
					outcomes <- outcome{row: t.Row, text: recovered, salvaged: true}
					return
				}
				outcomes <- outcome{row: t.Row, err: err}
				return
			}
			outcomes <- outcome{row: t.Row, text: text}
		}(t)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(map[int]bool, len(tasks))
	received := 0
collect:
	for received < len(tasks) {
		select {
		case o := <-outcomes:
			received++
			if o.err != nil {
				observability.DispatchTasksTotal.WithLabelValues("error").Inc()
				d.logger.Error("completion task failed",
					"row", o.row, "error", o.err.Error())
				return nil, api.NewInvocationError(o.err.Error())
			}
			text := o.text
			res.Rows[o.row].Text = &text
			done[o.row] = true
			if o.salvaged {
				res.Rows[o.row].Salvaged = true
				res.SalvagedCount++
				observability.DispatchTasksTotal.WithLabelValues("salvaged").Inc()
			} else {
				observability.DispatchTasksTotal.WithLabelValues("ok").Inc()
			}
		case <-timer.C:
			res.TimedOut = true
			break collect
		case <-ctx.Done():
			res.TimedOut = true
			break collect
		}
	}

	if res.TimedOut {
		// One sentinel at the first still-pending task row; the other
		// pending rows keep a nil completion.
		for _, t := range tasks {
			if done[t.Row] {
				continue
			}
			sentinel := SentinelText
			res.Rows[t.Row].Text = &sentinel
			res.Rows[t.Row].TimedOut = true
			observability.DispatchTasksTotal.WithLabelValues("timeout").Inc()
			break
		}
		d.logger.Warn("dispatch deadline exceeded",
			"tasks", len(tasks), "completed", received, "timeout", timeout)
	}

	return res, nil
}
