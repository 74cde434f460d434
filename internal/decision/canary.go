// Package decision implements the canary-gated conversational decision layer
// consulted in the opening dialogue state.
package decision

import "hash/fnv"

// Bucket maps a call id to a deterministic bucket in [0, 100). The mapping
// is a pure function of the id, so a call is consistently in or out of the
// canary for its whole duration, independent of wall clock or random state.
func Bucket(callID string) int {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return int(h.Sum32() % 100)
}

// InCanary reports whether a call is selected by the configured percentage.
// 0 disables the layer entirely; 100 selects every call.
func InCanary(callID string, percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}
	return Bucket(callID) < percent
}
