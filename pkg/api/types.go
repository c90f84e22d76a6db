package api

// Record is a single row of batch input, mapping field names to values.
// A missing key and an explicit nil value are both treated as null.
type Record map[string]any

// IsNull reports whether the named field is absent or nil in the record.
func (r Record) IsNull(field string) bool {
	v, ok := r[field]
	return !ok || v == nil
}

// Batch is an ordered sequence of records. The slice index is the row
// index and is preserved end-to-end through filling and dispatch.
type Batch []Record

// ChatRole is the author of a chat message.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one role-tagged message in a conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
	Name    string   `json:"name,omitempty"`
}

// Chat is an ordered message sequence that has passed validation:
// at least one message, at least one user message, at least one
// assistant message, and a legal role-transition order.
type Chat struct {
	Messages []ChatMessage `json:"messages"`
}

// RowResult is the completion outcome for a single input row.
//
// Text is nil for rows that were excluded as empty and for rows whose
// task did not finish before the dispatch deadline. Exactly one result
// per run carries TimedOut=true when the deadline elapsed.
type RowResult struct {
	Index    int     `json:"index"`
	Text     *string `json:"text"`
	Salvaged bool    `json:"salvaged,omitempty"`
	TimedOut bool    `json:"timed_out,omitempty"`
}

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial" // deadline elapsed, partial results
	RunStatusFailed    RunStatus = "failed"
)

// Run is a completed batch completion run: the request parameters that
// shaped it plus one result per original input row.
type Run struct {
	ID            string      `json:"id"`
	Object        string      `json:"object"` // always "batch_run"
	Status        RunStatus   `json:"status"`
	Model         string      `json:"model"`
	Template      string      `json:"template"`
	RowCount      int         `json:"row_count"`
	EmptyRowCount int         `json:"empty_row_count"`
	SalvagedCount int         `json:"salvaged_count,omitempty"`
	TimedOut      bool        `json:"timed_out,omitempty"`
	Results       []RowResult `json:"results"`
	Error         *APIError   `json:"error,omitempty"`
	CreatedAt     int64       `json:"created_at"`
	DurationMS    int64       `json:"duration_ms"`
}

// BatchMode selects how batch rows are turned into completion tasks.
type BatchMode string

const (
	// BatchModeCompletion renders one templated prompt per row. The
	// default when mode is omitted.
	BatchModeCompletion BatchMode = "completion"

	// BatchModeConversational aggregates role-tagged message rows into
	// chat units and completes one conversation per unit.
	BatchModeConversational BatchMode = "conversational"
)

// BatchRequest asks for one completion per record using a shared template,
// or one completion per aggregated conversation in conversational mode.
type BatchRequest struct {
	Model          string    `json:"model,omitempty"`
	Mode           BatchMode `json:"mode,omitempty"`
	Template       string    `json:"template"`
	Rows           Batch     `json:"rows"`
	TimeoutSeconds int       `json:"timeout_seconds,omitempty"`
	MaxWorkers     int       `json:"max_workers,omitempty"`
	Store          *bool     `json:"store,omitempty"`
}

// Conversational reports whether rows should be aggregated into chats.
func (r *BatchRequest) Conversational() bool {
	return r.Mode == BatchModeConversational
}

// Stored reports whether the run should be persisted. Defaults to true.
func (r *BatchRequest) Stored() bool {
	return r.Store == nil || *r.Store
}

// StreamRequest asks for a streamed completion of a single conversation.
type StreamRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
}
