// Package engine wires the prompt, chat, dispatch, and stream layers into
// the two handler operations the transport exposes: batch completion runs
// and single-conversation streaming.
package engine
