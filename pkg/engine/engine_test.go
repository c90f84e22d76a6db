package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/provider"
	"github.com/stapel-ai/stapel/pkg/stream"
	"github.com/stapel-ai/stapel/pkg/transport"
)

type fakeProvider struct {
	complete func(ctx context.Context, req provider.Request) (*provider.Response, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	return f.complete(ctx, req)
}

func (f *fakeProvider) ListModels(_ context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: "test-model"}}, nil
}

func (f *fakeProvider) Close() error { return nil }

// echoProvider answers every completion with "echo: <last user message>".
func echoProvider() *fakeProvider {
	return &fakeProvider{
		complete: func(_ context.Context, req provider.Request) (*provider.Response, error) {
			last := req.Messages[len(req.Messages)-1]
			return &provider.Response{
				Model:        req.Model,
				Text:         "echo: " + last.Content,
				FinishReason: "stop",
			}, nil
		},
	}
}

type runCapture struct {
	run *api.Run
}

func (c *runCapture) WriteRun(_ context.Context, run *api.Run) error {
	c.run = run
	return nil
}

type fakeStore struct {
	saved []*api.Run
}

func (s *fakeStore) SaveRun(_ context.Context, run *api.Run) error {
	s.saved = append(s.saved, run)
	return nil
}

func (s *fakeStore) GetRun(_ context.Context, _ string) (*api.Run, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) DeleteRun(_ context.Context, _ string) error { return nil }

func (s *fakeStore) ListRuns(_ context.Context, _ transport.ListOptions) (*transport.RunList, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) HealthCheck(_ context.Context) error { return nil }
func (s *fakeStore) Close() error                        { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(p provider.Provider, store transport.RunStore) *Engine {
	return New(p, store, testLogger(), Options{
		Timeout:    time.Second,
		MaxWorkers: 4,
	})
}

func TestRunBatch_HappyPath(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(echoProvider(), store)

	req := &api.BatchRequest{
		Template: "greet {{name}}",
		Rows: api.Batch{
			{"name": "ada"},
			{"name": nil}, // empty row, no backend call
			{"name": "bob"},
		},
	}

	var w runCapture
	if err := e.RunBatch(context.Background(), req, &w); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	run := w.run
	if run == nil {
		t.Fatal("no run written")
	}
	if run.Status != api.RunStatusCompleted {
		t.Errorf("status = %q", run.Status)
	}
	if run.RowCount != 3 || run.EmptyRowCount != 1 {
		t.Errorf("rows = %d, empty = %d", run.RowCount, run.EmptyRowCount)
	}
	if len(run.Results) != 3 {
		t.Fatalf("results = %d", len(run.Results))
	}
	if run.Results[0].Text == nil || *run.Results[0].Text != "echo: greet ada" {
		t.Errorf("row 0 = %v", run.Results[0].Text)
	}
	if run.Results[1].Text != nil {
		t.Errorf("empty row has text %q", *run.Results[1].Text)
	}
	if run.Results[2].Text == nil || *run.Results[2].Text != "echo: greet bob" {
		t.Errorf("row 2 = %v", run.Results[2].Text)
	}
	if run.ID == "" || run.Object != "batch_run" {
		t.Errorf("id = %q, object = %q", run.ID, run.Object)
	}

	// Store defaults to true.
	if len(store.saved) != 1 || store.saved[0].ID != run.ID {
		t.Errorf("saved runs = %+v", store.saved)
	}
}

func TestRunBatch_StoreOptOut(t *testing.T) {
	store := &fakeStore{}
	e := testEngine(echoProvider(), store)

	off := false
	req := &api.BatchRequest{
		Template: "{{x}}",
		Rows:     api.Batch{{"x": "1"}},
		Store:    &off,
	}

	var w runCapture
	if err := e.RunBatch(context.Background(), req, &w); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("run saved despite store=false")
	}
}

func TestRunBatch_InvalidRequest(t *testing.T) {
	e := testEngine(echoProvider(), nil)

	err := e.RunBatch(context.Background(), &api.BatchRequest{Template: ""}, &runCapture{})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("err = %v", err)
	}
}

func TestRunBatch_TemplateError(t *testing.T) {
	e := testEngine(echoProvider(), nil)

	req := &api.BatchRequest{
		Template: "broken {{name",
		Rows:     api.Batch{{"name": "ada"}},
	}
	err := e.RunBatch(context.Background(), req, &runCapture{})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeTemplate {
		t.Errorf("err = %v", err)
	}
}

func TestRunBatch_ProviderFailure(t *testing.T) {
	p := &fakeProvider{
		complete: func(_ context.Context, _ provider.Request) (*provider.Response, error) {
			return nil, api.NewInvocationError("backend exploded")
		},
	}
	e := testEngine(p, nil)

	req := &api.BatchRequest{
		Template: "{{x}}",
		Rows:     api.Batch{{"x": "1"}},
	}

	var w runCapture
	err := e.RunBatch(context.Background(), req, &w)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeInvocation {
		t.Fatalf("err = %v", err)
	}
	if w.run != nil {
		t.Error("run written despite failure")
	}
}

func TestRunBatch_DeadlineYieldsPartialRun(t *testing.T) {
	release := make(chan struct{})
	p := &fakeProvider{
		complete: func(ctx context.Context, _ provider.Request) (*provider.Response, error) {
			select {
			case <-release:
				return &provider.Response{Text: "late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	defer close(release)

	e := testEngine(p, nil)
	e.opts.Timeout = 20 * time.Millisecond

	req := &api.BatchRequest{
		Template: "{{x}}",
		Rows:     api.Batch{{"x": "1"}},
	}

	var w runCapture
	if err := e.RunBatch(context.Background(), req, &w); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if w.run.Status != api.RunStatusPartial || !w.run.TimedOut {
		t.Errorf("status = %q, timed_out = %v", w.run.Status, w.run.TimedOut)
	}
}

func TestRunBatch_Conversational(t *testing.T) {
	var gotMessages [][]provider.Message
	p := &fakeProvider{
		complete: func(_ context.Context, req provider.Request) (*provider.Response, error) {
			gotMessages = append(gotMessages, req.Messages)
			last := req.Messages[len(req.Messages)-1]
			return &provider.Response{Text: "reply to " + last.Content}, nil
		},
	}
	e := testEngine(p, nil)
	e.opts.MaxWorkers = 1 // deterministic call order

	req := &api.BatchRequest{
		Mode: api.BatchModeConversational,
		Rows: api.Batch{
			{"chat_id": 2, "message_id": 1, "role": "user", "content": "two-one"},
			{"chat_id": 2, "message_id": 2, "role": "assistant", "content": "two-two"},
			{"chat_id": 1, "message_id": 1, "role": "user", "content": "one-one"},
			{"chat_id": 1, "message_id": 2, "role": "assistant", "content": "one-two"},
		},
	}

	var w runCapture
	if err := e.RunBatch(context.Background(), req, &w); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	run := w.run
	if run.Status != api.RunStatusCompleted {
		t.Errorf("status = %q", run.Status)
	}
	// Four rows aggregate into two chat units, one result per unit.
	if run.RowCount != 4 || len(run.Results) != 2 {
		t.Fatalf("rows = %d, results = %d", run.RowCount, len(run.Results))
	}
	if len(gotMessages) != 2 {
		t.Fatalf("backend calls = %d", len(gotMessages))
	}
	for _, msgs := range gotMessages {
		if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
			t.Errorf("conversation = %+v", msgs)
		}
	}
	for _, r := range run.Results {
		if r.Text == nil {
			t.Errorf("result %d has no text", r.Index)
		}
	}
}

func TestRunBatch_ConversationalInvalidChat(t *testing.T) {
	e := testEngine(echoProvider(), nil)

	// A lone user message fails chat validation (no assistant turn).
	req := &api.BatchRequest{
		Mode: api.BatchModeConversational,
		Rows: api.Batch{
			{"role": "user", "content": "hello"},
		},
	}

	err := e.RunBatch(context.Background(), req, &runCapture{})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeChatFormat {
		t.Errorf("err = %v", err)
	}
}

type frameRecorder struct {
	frames []map[string]any
}

func (r *frameRecorder) WriteFrame(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	r.frames = append(r.frames, m)
	return nil
}

func TestRunStream_CompleteFallback(t *testing.T) {
	e := testEngine(echoProvider(), nil)

	req := &api.StreamRequest{
		Messages: []api.ChatMessage{
			{Role: api.RoleUser, Content: "hi"},
			{Role: api.RoleAssistant, Content: "hello"},
			{Role: api.RoleUser, Content: "tell me more"},
		},
	}

	var rec frameRecorder
	if err := e.RunStream(context.Background(), req, &rec); err != nil {
		t.Fatalf("RunStream: %v", err)
	}

	// Ack, one output chunk, end.
	if len(rec.frames) != 3 {
		t.Fatalf("frames = %d: %v", len(rec.frames), rec.frames)
	}
	if rec.frames[0]["quick_response"] != true {
		t.Errorf("first frame = %v", rec.frames[0])
	}
	if rec.frames[1]["output"] != "echo: tell me more" {
		t.Errorf("output frame = %v", rec.frames[1])
	}
	if rec.frames[2]["type"] != "end" {
		t.Errorf("last frame = %v", rec.frames[2])
	}
}

type feedingProvider struct {
	*fakeProvider
	chunks []stream.Chunk
}

func (f *feedingProvider) StreamFeed(_ context.Context, _ provider.Request) (stream.Feed, error) {
	i := 0
	return stream.FeedFunc(func(_ context.Context) (stream.Chunk, error) {
		if i >= len(f.chunks) {
			return stream.Chunk{}, io.EOF
		}
		c := f.chunks[i]
		i++
		return c, nil
	}), nil
}

func TestRunStream_NativeFeed(t *testing.T) {
	p := &feedingProvider{
		fakeProvider: echoProvider(),
		chunks: []stream.Chunk{
			{Kind: stream.KindOutput, Output: "part one"},
			{Kind: stream.KindOutput, Output: " part two"},
		},
	}
	e := testEngine(p, nil)

	req := &api.StreamRequest{
		Messages: []api.ChatMessage{
			{Role: api.RoleUser, Content: "hi"},
			{Role: api.RoleAssistant, Content: "hello"},
			{Role: api.RoleUser, Content: "go on"},
		},
	}

	var rec frameRecorder
	if err := e.RunStream(context.Background(), req, &rec); err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	if len(rec.frames) != 4 {
		t.Fatalf("frames = %d: %v", len(rec.frames), rec.frames)
	}
	if rec.frames[1]["output"] != "part one" || rec.frames[2]["output"] != " part two" {
		t.Errorf("chunk frames = %v", rec.frames[1:3])
	}
}

func TestRunStream_ChatFormatError(t *testing.T) {
	e := testEngine(echoProvider(), nil)

	// Two consecutive user messages break the alternation rule.
	req := &api.StreamRequest{
		Messages: []api.ChatMessage{
			{Role: api.RoleUser, Content: "hi"},
			{Role: api.RoleUser, Content: "hi again"},
		},
	}

	var rec frameRecorder
	err := e.RunStream(context.Background(), req, &rec)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeChatFormat {
		t.Fatalf("err = %v", err)
	}
	if len(rec.frames) != 0 {
		t.Errorf("frames written before validation: %v", rec.frames)
	}
}

func TestRunStream_InvalidRequest(t *testing.T) {
	e := testEngine(echoProvider(), nil)

	err := e.RunStream(context.Background(), &api.StreamRequest{}, &frameRecorder{})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("err = %v", err)
	}
}

func TestRunBatch_DefaultModel(t *testing.T) {
	var gotModel string
	p := &fakeProvider{
		complete: func(_ context.Context, req provider.Request) (*provider.Response, error) {
			gotModel = req.Model
			return &provider.Response{Text: "ok"}, nil
		},
	}
	e := testEngine(p, nil)
	e.opts.DefaultModel = "fallback-model"

	req := &api.BatchRequest{
		Template: "{{x}}",
		Rows:     api.Batch{{"x": "1"}},
	}
	if err := e.RunBatch(context.Background(), req, &runCapture{}); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if gotModel != "fallback-model" {
		t.Errorf("model = %q", gotModel)
	}
}
