// Package coordinator executes completions against a selected backend,
// streaming output and retrying once against the next-ranked agent when an
// auto-selected backend fails, even mid-stream; the fallback stream is
// suppressed up to the byte already delivered so the caller sees a single
// stream without a duplicate preamble.
package coordinator
