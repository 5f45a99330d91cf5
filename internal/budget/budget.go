// Package budget divides a total thread budget across concurrently
// active work units. Both functions are pure and deterministic.
package budget

// PerUnit returns the thread allocation for one unit given the total
// budget and the number of simultaneously active units (concurrent
// samples × concurrent chunks per sample). Never returns 0: when the
// budget is smaller than the unit count, each unit gets one thread and
// effective concurrency shrinks instead (see EffectiveUnits).
func PerUnit(totalThreads, concurrentUnits int) int {
	if totalThreads < 1 || concurrentUnits < 1 {
		return 1
	}
	per := totalThreads / concurrentUnits
	if per < 1 {
		return 1
	}
	return per
}

// EffectiveUnits caps the number of simultaneously active units so that
// units × PerUnit never exceeds totalThreads.
func EffectiveUnits(totalThreads, concurrentUnits int) int {
	if concurrentUnits < 1 {
		return 1
	}
	if totalThreads >= 1 && totalThreads < concurrentUnits {
		return totalThreads
	}
	return concurrentUnits
}
