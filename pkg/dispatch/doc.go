// Package dispatch fans a batch of rendered prompts out to a completion
// backend under a bounded worker pool and a global deadline.
//
// Results come back in a fixed-size slice addressed by row index, so empty
// rows keep their positions and callers can zip results against the input
// batch without bookkeeping. The deadline is advisory: when it fires the
// dispatcher stops waiting and reports a timeout, but in-flight calls are
// left to finish in the background and their late results are discarded.
package dispatch
