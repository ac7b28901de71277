// Package cache provides a TTL response cache with duplicate suppression so
// concurrent identical queries share one backend completion.
package cache
