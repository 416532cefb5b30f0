package bplustree

// lowerBound returns the index of the first key >= target.
func lowerBound(keys []int64, target int64) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if keys[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// exactMatch returns the index of target within keys, or -1.
func exactMatch(keys []int64, target int64) int {
	i := lowerBound(keys, target)
	if i < len(keys) && keys[i] == target {
		return i
	}
	return -1
}

// upperBound returns the index of the first key > target: the child
// index an internal node descends into for target, since a split's
// separator key is kept by the right-hand child (§4.4 "using key ≥
// keys[i] advance").
func upperBound(keys []int64, target int64) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if keys[mid] <= target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func insertAt[T any](s []T, i int, v T) []T {
	s = append(s, v)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt[T any](s []T, i int) []T {
	return append(s[:i], s[i+1:]...)
}
