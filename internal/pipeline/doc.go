// Package pipeline drives enrichment: Processor consumes a message transport
// one message at a time, and BatchRunner enriches a finite event source in
// fixed-size slices.
package pipeline
