// Package assembler fans out to context source retrievers and merges their
// results into a bounded, deterministic context bundle.
package assembler
