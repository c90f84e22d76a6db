// Package prompt compiles double-brace templates ("Summarize: {{text}}")
// into ordered literal and placeholder segments, and fills them against
// record batches. Rows whose placeholder fields are all null are flagged
// as empty rather than filled.
package prompt
