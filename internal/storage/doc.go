// Package storage keeps the dispatch audit log.
//
// Every per-recipient send and every completed poll pass is appended to the
// configured backend. Nothing is read back at startup.
package storage
