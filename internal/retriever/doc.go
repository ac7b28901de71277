// Package retriever defines the context source contract and its concrete
// implementations.
//
// # Sources
//
//   - Messages: conversation history (SQLite)
//   - Events: calendar items (SQLite)
//   - Records: financial records (SQLite)
//   - Memory: recent conversation memory (Redis)
//
// Each retriever returns a bounded, relevance-ranked item list. Every item
// carries a provenance identifier ("message:<id>", "event:<id>", ...) used
// for de-duplication and cache invalidation downstream. Retrievers report
// errors to the assembler, which degrades the bundle instead of failing the
// query.
package retriever
