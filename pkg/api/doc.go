// Package api defines the wire types for the stapel batch completion API:
// record batches, chat messages, run results, streaming frames, and the
// error taxonomy shared by all layers.
//
// The package is dependency-free by design. Transport, engine, and storage
// all speak these types; nothing here imports them back.
package api
