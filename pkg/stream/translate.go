package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/stapel-ai/stapel/pkg/observability"
)

// AckText is the body of the acknowledgement frame sent before any
// backend chunk arrives.
const AckText = "I understand your request. I'm working on a detailed response for you."

// Translator drives a Feed to completion, projecting each chunk into one
// or more SSE frames.
type Translator struct {
	logger *slog.Logger
}

// NewTranslator creates a Translator. A nil logger uses slog.Default.
func NewTranslator(logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{logger: logger}
}

// Run streams feed to w. The frame sequence is fixed: an acknowledgement
// frame first, then one or more frames per chunk, an error frame if the
// feed fails, and a terminal {"type":"end"} frame no matter how the
// stream finished. Feed errors are conveyed in-band and Run returns nil
// for them; only frame write failures surface as errors.
func (t *Translator) Run(ctx context.Context, feed Feed, w FrameWriter) (err error) {
	defer func() {
		// The terminal frame goes out on every path except a broken writer.
		if err != nil {
			return
		}
		err = t.writeFrame(w, "end", map[string]any{"type": "end"})
	}()

	if err := t.writeFrame(w, "ack", map[string]any{
		"quick_response": true,
		"output":         AckText,
	}); err != nil {
		return err
	}

	for {
		chunk, feedErr := feed.Next(ctx)
		if feedErr != nil {
			if errors.Is(feedErr, io.EOF) {
				return nil
			}
			t.logger.Error("stream feed failed", "error", feedErr.Error())
			return t.writeFrame(w, "error", map[string]any{"error": feedErr.Error()})
		}
		if err := t.project(w, chunk); err != nil {
			return err
		}
	}
}

// project turns one chunk into its frame.
func (t *Translator) project(w FrameWriter, chunk Chunk) error {
	switch chunk.Kind {
	case KindPrompt:
		return t.writeFrame(w, "prompt", chunk.frame("prompt", chunk.Prompt))
	case KindOutput:
		return t.writeFrame(w, "output", chunk.frame("output", chunk.Output))
	case KindMessages:
		msgs := make([]map[string]any, len(chunk.Messages))
		for i, m := range chunk.Messages {
			msgs[i] = map[string]any{"content": m.Content}
		}
		return t.writeFrame(w, "messages", chunk.frame("messages", msgs))
	case KindActions:
		return t.writeFrame(w, "actions", chunk.frame("actions", chunk.Actions))
	case KindSteps:
		steps := make([]map[string]any, len(chunk.Steps))
		for i, s := range chunk.Steps {
			steps[i] = map[string]any{"observation": s}
		}
		return t.writeFrame(w, "steps", chunk.frame("steps", steps))
	case KindContext:
		return t.writeFrame(w, "context", map[string]any{"type": "context", "content": chunk.Context})
	case KindError:
		// An in-stream backend error is reported and streaming continues.
		t.logger.Error("backend stream error", "error", chunk.Error)
		return t.writeFrame(w, "error", map[string]any{"error": chunk.Error})
	case KindRaw:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(chunk.Raw), &decoded); err != nil {
			// Not valid JSON; deliver it as plain output text instead of
			// corrupting the frame stream.
			return t.writeFrame(w, "output", map[string]any{"output": chunk.Raw})
		}
		return t.writeFrame(w, "raw", decoded)
	default:
		// Nothing recognizable; deliver the chunk stringified.
		t.logger.Debug("stringifying chunk of unknown kind", "kind", string(chunk.Kind))
		return t.writeFrame(w, "output", map[string]any{"output": fmt.Sprint(chunk)})
	}
}

// frame builds a structured frame around one content key, tagging it with
// the backend's chunk type when one was sent.
func (c Chunk) frame(key string, v any) map[string]any {
	f := map[string]any{key: v}
	if c.Type != "" {
		f["type"] = c.Type
	}
	return f
}

func (t *Translator) writeFrame(w FrameWriter, kind string, v any) error {
	if err := w.WriteFrame(v); err != nil {
		return err
	}
	observability.StreamFramesTotal.WithLabelValues(kind).Inc()
	return nil
}
