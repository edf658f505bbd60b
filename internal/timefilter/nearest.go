package timefilter

import "time"

// FindNearest returns the element of values closest to target together
// with its index. Ties are broken toward the earliest-occurring
// candidate; callers depend on that when two frames straddle a target
// minute. ok is false when values is empty or the minimum distance
// exceeds tolerance.
func FindNearest(values []int, target, tolerance int) (value, index int, ok bool) {
	if len(values) == 0 {
		return 0, 0, false
	}

	best := 0
	bestDist := abs(values[0] - target)
	for i := 1; i < len(values); i++ {
		if d := abs(values[i] - target); d < bestDist {
			best = i
			bestDist = d
		}
	}

	if bestDist > tolerance {
		return 0, 0, false
	}
	return values[best], best, true
}

// FindNearestTime returns the candidate closest to target by absolute
// delta, provided it lies within fuzzyMinutes. Exact ties keep the
// first-found candidate.
func FindNearestTime(target time.Time, candidates []time.Time, fuzzyMinutes int) (time.Time, bool) {
	tolerance := time.Duration(fuzzyMinutes) * time.Minute

	var best time.Time
	bestDelta := time.Duration(-1)
	for _, c := range candidates {
		delta := absDuration(c.Sub(target))
		if delta > tolerance {
			continue
		}
		if bestDelta < 0 || delta < bestDelta {
			best = c
			bestDelta = delta
		}
	}

	if bestDelta < 0 {
		return time.Time{}, false
	}
	return best, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
