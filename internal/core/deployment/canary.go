package deployment

// =============================================================================
// Canary Replica Math
// =============================================================================

// CanarySplit divides total replicas for a canary step at percent.
// The canary always keeps at least one replica; the stable workload gets the
// remainder and never goes negative.
//
// Example:
//
//	CanarySplit(10, 25)  // returns 2, 8
//	CanarySplit(3, 10)   // returns 1, 2
//	CanarySplit(10, 100) // returns 10, 0
func CanarySplit(total, percent int) (canary, stable int) {
	canary = total * percent / 100
	if canary < 1 {
		canary = 1
	}
	stable = total - canary
	if stable < 0 {
		stable = 0
	}
	return canary, stable
}
