// Package compliance evaluates queries and assembled context against a
// data-driven policy before anything reaches a completion backend.
//
// # Rules
//
// Rules load from a YAML policy file. Each rule can match on a content
// pattern, intent categories, context source tags, and a minimum agent
// privacy tier, and carries an action:
//
//   - block: terminate the query with the rule's reason
//   - redact: remove matching context items, keep the query running
//
// Block takes precedence over redact. The ruleset is swapped atomically on
// reload; in-flight checks keep the snapshot they loaded. With hot reload
// enabled the policy file is watched via fsnotify and a bad edit keeps the
// previous ruleset in force.
package compliance
