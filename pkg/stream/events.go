// Package stream translates backend completion chunks into the SSE frames
// served on the streaming endpoint.
package stream

import "context"

// ChunkKind discriminates the closed set of chunk variants a backend feed
// can produce.
type ChunkKind string

const (
	KindPrompt   ChunkKind = "prompt"
	KindOutput   ChunkKind = "output"
	KindMessages ChunkKind = "messages"
	KindActions  ChunkKind = "actions"
	KindSteps    ChunkKind = "steps"
	KindContext  ChunkKind = "context"
	KindError    ChunkKind = "error"
	KindRaw      ChunkKind = "raw"
)

// Message is a role/content pair carried by a messages chunk. Only the
// content survives projection onto the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Action describes one tool invocation reported by an agent backend.
type Action struct {
	Tool      string `json:"tool"`
	ToolInput string `json:"tool_input"`
	Log       string `json:"log"`
}

// Chunk is one unit of backend progress. Exactly the field selected by
// Kind is meaningful; the rest stay zero. Type carries the backend's own
// tag for the chunk, when it sent one.
type Chunk struct {
	Kind ChunkKind
	Type string

	Prompt   string
	Output   string
	Messages []Message
	Actions  []Action

	// Steps holds one observation per intermediate agent step.
	Steps []string

	Context string

	// Error carries an explicit in-stream failure payload. It does not
	// end the stream.
	Error string

	// Raw carries a pre-encoded JSON payload to pass through unchanged.
	Raw string
}

// Feed yields chunks from a backend completion. Next returns io.EOF when
// the completion finishes cleanly; any other error is conveyed to the
// client as an error frame.
type Feed interface {
	Next(ctx context.Context) (Chunk, error)
}

// FeedFunc adapts a function to the Feed interface.
type FeedFunc func(ctx context.Context) (Chunk, error)

// Next calls f.
func (f FeedFunc) Next(ctx context.Context) (Chunk, error) {
	return f(ctx)
}

// FrameWriter emits one SSE data frame per call.
type FrameWriter interface {
	WriteFrame(v any) error
}
