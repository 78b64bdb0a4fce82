package store

// Package store persists device and server properties locally so they
// survive restarts and can be replayed to the broker on reconnect.
//
// Rows are keyed by (interface, path) and carry the interface major
// version they were written under; a major mismatch on load invalidates
// the row.
