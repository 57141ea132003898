// Package spool is the append-only, segmented record log used to stream
// sealed timeline intervals to disk while a run is in progress. Memory use
// stays bounded by the write buffer; the full history is recovered with
// ReadAll once writing has stopped.
package spool
