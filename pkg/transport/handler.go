package transport

import (
	"context"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/stream"
)

// BatchRunner handles the core batch completion operation. The
// implementation receives a request and writes the finished run to the
// RunWriter.
type BatchRunner interface {
	RunBatch(ctx context.Context, req *api.BatchRequest, w RunWriter) error
}

// BatchRunnerFunc is an adapter that allows using an ordinary function
// as a BatchRunner.
type BatchRunnerFunc func(ctx context.Context, req *api.BatchRequest, w RunWriter) error

// RunBatch calls f(ctx, req, w).
func (f BatchRunnerFunc) RunBatch(ctx context.Context, req *api.BatchRequest, w RunWriter) error {
	return f(ctx, req, w)
}

// StreamRunner handles single-conversation streaming completions,
// emitting SSE frames through the FrameWriter as the backend progresses.
type StreamRunner interface {
	RunStream(ctx context.Context, req *api.StreamRequest, w stream.FrameWriter) error
}

// StreamRunnerFunc is an adapter that allows using an ordinary function
// as a StreamRunner.
type StreamRunnerFunc func(ctx context.Context, req *api.StreamRequest, w stream.FrameWriter) error

// RunStream calls f(ctx, req, w).
func (f StreamRunnerFunc) RunStream(ctx context.Context, req *api.StreamRequest, w stream.FrameWriter) error {
	return f(ctx, req, w)
}

// RunWriter receives the completed run from the handler. The transport
// layer creates one per request.
type RunWriter interface {
	WriteRun(ctx context.Context, run *api.Run) error
}

// RunWriterFunc adapts a function to the RunWriter interface.
type RunWriterFunc func(ctx context.Context, run *api.Run) error

// WriteRun calls f(ctx, run).
func (f RunWriterFunc) WriteRun(ctx context.Context, run *api.Run) error {
	return f(ctx, run)
}

// ListOptions controls pagination, filtering, and ordering for list
// operations.
type ListOptions struct {
	After  string // Cursor: return items after this ID.
	Before string // Cursor: return items before this ID.
	Limit  int    // Maximum number of items to return (default 20, max 100).
	Model  string // Filter runs by model name.
	Status string // Filter runs by status.
	Order  string // Sort order: "asc" or "desc" (default "desc").
}

// RunList holds a paginated list of runs.
type RunList struct {
	Object  string     `json:"object"`
	Data    []*api.Run `json:"data"`
	HasMore bool       `json:"has_more"`
	FirstID string     `json:"first_id"`
	LastID  string     `json:"last_id"`
}

// RunStore handles persistence, retrieval, and deletion of stored runs.
type RunStore interface {
	// SaveRun persists a completed run to the store.
	SaveRun(ctx context.Context, run *api.Run) error

	// GetRun retrieves a run by ID. Returns storage.ErrNotFound if the
	// run does not exist or has been deleted (soft delete).
	GetRun(ctx context.Context, id string) (*api.Run, error)

	// DeleteRun soft-deletes a run by ID.
	DeleteRun(ctx context.Context, id string) error

	// ListRuns returns a paginated list of stored runs. Results are
	// filtered by tenant (when present in context) and optionally by
	// model or status. Supports cursor-based pagination and ordering.
	ListRuns(ctx context.Context, opts ListOptions) (*RunList, error)

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases database connections and resources.
	Close() error
}
