package chat

import (
	"fmt"

	"github.com/stapel-ai/stapel/pkg/api"
)

// StateStart is the initial FSM state, before any message has been seen.
const StateStart = "start"

// Transitions maps an FSM state to the roles that may legally follow it.
// States are StateStart plus one state per role.
type Transitions map[string][]string

// DefaultTransitions returns the standard chat ordering: an optional
// system message first, then strict user/assistant alternation.
func DefaultTransitions() Transitions {
	return Transitions{
		StateStart:  {"system", "user"},
		"system":    {"user"},
		"user":      {"assistant"},
		"assistant": {"user"},
	}
}

// messageKeys are the only keys a raw chat message may carry.
var messageKeys = map[string]bool{
	"role":    true,
	"content": true,
	"name":    true,
}

// RawMessage is a chat message decoded from untyped row data, before
// validation has confirmed its shape.
type RawMessage map[string]any

// Validator checks chat sequences against a role-transition table.
type Validator struct {
	transitions Transitions
	validRoles  map[string]bool
}

// NewValidator creates a Validator with the given transition table.
// Passing nil uses DefaultTransitions. Valid roles are derived from the
// table: every state and target other than the start state.
func NewValidator(transitions Transitions) *Validator {
	if transitions == nil {
		transitions = DefaultTransitions()
	}

	roles := make(map[string]bool)
	for state, targets := range transitions {
		if state != StateStart {
			roles[state] = true
		}
		for _, t := range targets {
			roles[t] = true
		}
	}

	return &Validator{transitions: transitions, validRoles: roles}
}

// Validate checks a typed message sequence. See ValidateRaw for the rules.
func (v *Validator) Validate(messages []api.ChatMessage) error {
	raw := make([]RawMessage, len(messages))
	for i, m := range messages {
		raw[i] = RawMessage{"role": string(m.Role), "content": m.Content}
		if m.Name != "" {
			raw[i]["name"] = m.Name
		}
	}
	return v.ValidateRaw(raw)
}

// ValidateRaw checks a raw message sequence.
//
// Structural checks run first and fail independently of message order:
// every message may only carry the keys role/content/name, the sequence
// must be non-empty, and it must contain at least one user and one
// assistant message. The FSM walk then checks role legality, textual
// content, and transition legality in order, failing at the first
// violation with the 1-based message index.
func (v *Validator) ValidateRaw(messages []RawMessage) error {
	for i, m := range messages {
		for k := range m {
			if !messageKeys[k] {
				return api.NewChatFormatError(fmt.Sprintf(
					"message #%d: unknown key `%s` (allowed: role, content, name)", i+1, k))
			}
		}
	}

	if len(messages) == 0 {
		return api.NewChatFormatError("chat should have at least one message")
	}

	hasRole := func(role string) bool {
		for _, m := range messages {
			if r, ok := m["role"].(string); ok && r == role {
				return true
			}
		}
		return false
	}
	if !hasRole("assistant") {
		return api.NewChatFormatError("chat should have at least one assistant message")
	}
	if !hasRole("user") {
		return api.NewChatFormatError("chat should have at least one user message")
	}

	state := StateStart
	for i, m := range messages {
		role, _ := m["role"].(string)

		if !v.validRoles[role] {
			return api.NewChatFormatError(fmt.Sprintf(
				"message #%d: invalid role `%s`", i+1, role))
		}

		if _, ok := m["content"].(string); !ok {
			return api.NewChatFormatError(fmt.Sprintf(
				"message #%d: content must be a string", i+1))
		}

		if !v.allowed(state, role) {
			return api.NewChatFormatError(fmt.Sprintf(
				"message #%d: invalid transition from `%s` to `%s`", i+1, state, role))
		}
		state = role
	}

	return nil
}

func (v *Validator) allowed(state, role string) bool {
	for _, t := range v.transitions[state] {
		if t == role {
			return true
		}
	}
	return false
}
