package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/stapel-ai/stapel/pkg/api"
)

// Row column names the aggregator recognizes.
const (
	colRole      = "role"
	colContent   = "content"
	colName      = "name"
	colChatID    = "chat_id"
	colMessageID = "message_id"
	colChatJSON  = "chat_json"
)

// Aggregator groups raw message rows into validated chat units.
type Aggregator struct {
	validator *Validator
	logger    *slog.Logger
}

// NewAggregator creates an Aggregator. A nil validator uses the default
// transition table; a nil logger uses slog.Default.
func NewAggregator(v *Validator, logger *slog.Logger) *Aggregator {
	if v == nil {
		v = NewValidator(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{validator: v, logger: logger}
}

// Aggregate turns a batch of message rows into chat units.
//
// Sort policy: rows with chat_id sort by (chat_id, message_id) when
// message_id is also present, otherwise stable by chat_id alone so the
// original relative order within each chat survives. If only message_id
// is present, the whole batch is a single chat and message_id values
// must be unique.
//
// Rows carrying a chat_json column are decoded per row; rows that fail to
// decode are dropped silently. All other batches group tabularly: a new
// unit starts at each system-role row when the current unit is non-empty,
// and the final unit is flushed at batch end. Every unit is validated;
// the first failing unit aborts the whole aggregation with its ordinal.
func (a *Aggregator) Aggregate(rows []api.Record) ([]api.Chat, error) {
	sorted, err := sortRows(rows)
	if err != nil {
		return nil, err
	}

	if hasColumn(sorted, colChatJSON) {
		return a.aggregateJSON(sorted)
	}
	return a.aggregateTabular(sorted)
}

// sortRows applies the chat_id/message_id sort policy without mutating
// the caller's slice.
func sortRows(rows []api.Record) ([]api.Record, error) {
	sorted := make([]api.Record, len(rows))
	copy(sorted, rows)

	hasChat := hasColumn(rows, colChatID)
	hasMessage := hasColumn(rows, colMessageID)

	switch {
	case hasChat && hasMessage:
		sort.SliceStable(sorted, func(i, j int) bool {
			if c := compareValues(sorted[i][colChatID], sorted[j][colChatID]); c != 0 {
				return c < 0
			}
			return compareValues(sorted[i][colMessageID], sorted[j][colMessageID]) < 0
		})
	case hasChat:
		// Stability is load-bearing: messages within a chat keep their
		// original relative order.
		sort.SliceStable(sorted, func(i, j int) bool {
			return compareValues(sorted[i][colChatID], sorted[j][colChatID]) < 0
		})
	case hasMessage:
		seen := make(map[string]bool)
		for _, r := range sorted {
			key := valueKey(r[colMessageID])
			if seen[key] {
				return nil, api.NewDuplicateIDError(
					"message_id values must be unique when chat_id is absent")
			}
			seen[key] = true
		}
		sort.SliceStable(sorted, func(i, j int) bool {
			return compareValues(sorted[i][colMessageID], sorted[j][colMessageID]) < 0
		})
	}

	return sorted, nil
}

// aggregateTabular groups long-format rows into chats. A new unit starts
// at each system message and, when rows carry chat_id, at each chat_id
// boundary.
func (a *Aggregator) aggregateTabular(rows []api.Record) ([]api.Chat, error) {
	var chats []api.Chat
	var current []RawMessage
	var prevChat string
	hasChat := hasColumn(rows, colChatID)

	flush := func() error {
		if err := a.validator.ValidateRaw(current); err != nil {
			return wrapChatError(len(chats)+1, err)
		}
		chats = append(chats, toChat(current))
		current = nil
		return nil
	}

	for _, row := range rows {
		role, _ := row[colRole].(string)
		chatKey := ""
		if hasChat {
			chatKey = valueKey(row[colChatID])
		}

		boundary := role == "system" || (hasChat && chatKey != prevChat)
		if boundary && len(current) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		prevChat = chatKey

		msg := RawMessage{colRole: row[colRole], colContent: row[colContent]}
		if name, ok := row[colName]; ok && name != nil {
			msg[colName] = name
		}
		current = append(current, msg)
	}

	if err := flush(); err != nil {
		return nil, err
	}

	return chats, nil
}

// aggregateJSON decodes one pre-encoded chat per row. Rows whose payload
// is not valid JSON are skipped; decoded chats with the wrong shape or a
// failing message sequence abort the aggregation.
func (a *Aggregator) aggregateJSON(rows []api.Record) ([]api.Chat, error) {
	var chats []api.Chat

	for i, row := range rows {
		payload, _ := row[colChatJSON].(string)

		var decoded map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			a.logger.Debug("dropping undecodable chat row",
				"row", i, "error", err.Error())
			continue
		}

		ordinal := len(chats) + 1

		msgsRaw, ok := decoded["messages"]
		if !ok || len(decoded) != 1 {
			return nil, api.NewChatFormatError(fmt.Sprintf(
				"chat #%d: payload must have a single `messages` key", ordinal))
		}

		var messages []RawMessage
		if err := json.Unmarshal(msgsRaw, &messages); err != nil {
			return nil, api.NewChatFormatError(fmt.Sprintf(
				"chat #%d: `messages` must be a list of messages", ordinal))
		}

		if err := a.validator.ValidateRaw(messages); err != nil {
			return nil, wrapChatError(ordinal, err)
		}
		chats = append(chats, toChat(messages))
	}

	return chats, nil
}

// wrapChatError prefixes a validation failure with the unit's ordinal.
func wrapChatError(ordinal int, err error) error {
	if apiErr, ok := err.(*api.APIError); ok {
		return api.NewChatFormatError(fmt.Sprintf("chat #%d: %s", ordinal, apiErr.Message))
	}
	return api.NewChatFormatError(fmt.Sprintf("chat #%d: %s", ordinal, err.Error()))
}

// toChat converts validated raw messages to a typed Chat.
func toChat(messages []RawMessage) api.Chat {
	chat := api.Chat{Messages: make([]api.ChatMessage, len(messages))}
	for i, m := range messages {
		role, _ := m[colRole].(string)
		content, _ := m[colContent].(string)
		name, _ := m[colName].(string)
		chat.Messages[i] = api.ChatMessage{
			Role:    api.ChatRole(role),
			Content: content,
			Name:    name,
		}
	}
	return chat
}

// hasColumn reports whether any row carries the named column.
func hasColumn(rows []api.Record, col string) bool {
	for _, r := range rows {
		if _, ok := r[col]; ok {
			return true
		}
	}
	return false
}

// compareValues orders two identifier values: numerically when both are
// numbers, lexically otherwise.
func compareValues(a, b any) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, bs := valueKey(a), valueKey(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// valueKey renders an identifier value as a map key for duplicate checks.
func valueKey(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
