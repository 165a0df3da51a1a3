// Package report periodically logs how fast a counter grows.
package report

// Sample is a counter reading taken at a wall-clock instant.
type Sample struct {
	TimestampMs int64
	Count       uint64
}

// IsZero reports whether s is the empty sample that precedes the first tick.
func (s Sample) IsZero() bool {
	return s.TimestampMs == 0
}

// Delta returns how much the counter grew from prev to cur. A counter that
// went backwards (store cleared) yields 0.
func Delta(prev, cur Sample) uint64 {
	if cur.Count < prev.Count {
		return 0
	}
	return cur.Count - prev.Count
}

// Throughput returns floor(delta / elapsed seconds) between two samples.
// It is not defined for the very first sample or a non-positive interval.
func Throughput(prev, cur Sample) (uint64, bool) {
	if prev.IsZero() {
		return 0, false
	}
	elapsedMs := cur.TimestampMs - prev.TimestampMs
	if elapsedMs <= 0 {
		return 0, false
	}
	return Delta(prev, cur) * 1000 / uint64(elapsedMs), true
}
