// https://github.com/relaysync/core

package worker

// ticksPerSecond is Jellyfin-style playback tick granularity: one tick
// is 100ns.
const ticksPerSecond = 10_000_000

// progressTicksThreshold is the minimum drift between a target's
// current position and the intended one worth writing: a 10-second
// comparison window, below which a resync would just be noise.
const progressTicksThreshold = 10 * ticksPerSecond

// asInt64 coerces a FieldValue.Value that round-tripped through JSON
// (and so arrives as float64 regardless of its original Go type) back
// to int64.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// asBool coerces a FieldValue.Value back to bool.
func asBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// asFloatPtr coerces a FieldValue.Value back to *float64, treating nil
// as "clear the rating".
func asFloatPtr(v interface{}) (*float64, bool) {
	if v == nil {
		return nil, true
	}
	switch n := v.(type) {
	case float64:
		return &n, true
	case int64:
		f := float64(n)
		return &f, true
	case int:
		f := float64(n)
		return &f, true
	default:
		return nil, false
	}
}

func absDiffInt64(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
