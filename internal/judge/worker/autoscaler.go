package worker

// calculateOptimalWorkers sizes the pool from queue depth and load. An
// empty queue collapses to the minimum; a deep backlog steps up by 5, a
// shallow one steps down by 3. The result never drops below the number of
// busy workers so in-flight work is not preempted.
func calculateOptimalWorkers(queueDepth, busy, current, min, max int) int {
	target := current

	switch {
	case queueDepth == 0:
		target = min
	case queueDepth > busy*3:
		target = current + 5
	case float64(queueDepth) < float64(busy)*0.5 && current > min:
		target = current - 3
	}

	if target < min {
		target = min
	}
	if target > max {
		target = max
	}
	if target < busy {
		target = busy
	}
	return target
}
