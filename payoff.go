package main

import "math"

const (
	payoffSearchIterations = 60
	payoffSearchTolerance  = 1.0
)

// PayoffResult is the lowest starting salary at which a policy clears the
// loan before write-off.
type PayoffResult struct {
	Policy  string          `json:"policy"`
	Found   bool            `json:"found"`
	Salary  float64         `json:"salary"`
	Summary LifetimeSummary `json:"summary"`
}

// FindPayoffSalary bisects [low, high] for the salary where the loan first
// gets paid off in full. Found is false when even high is written off.
// Assumes payoff is monotone in salary.
func FindPayoffSalary(balance float64, policy Policy, a Assumptions, low, high float64) PayoffResult {
	result := PayoffResult{Policy: policy.Key}

	top := SimulateLifetime(high, balance, policy, a)
	if !top.PaidOff {
		return result
	}
	result.Found = true
	result.Salary = high
	result.Summary = top

	if bottom := SimulateLifetime(low, balance, policy, a); bottom.PaidOff {
		result.Salary = low
		result.Summary = bottom
		return result
	}

	for i := 0; i < payoffSearchIterations && high-low > payoffSearchTolerance; i++ {
		mid := (low + high) / 2
		summary := SimulateLifetime(mid, balance, policy, a)
		if summary.PaidOff {
			high = mid
			result.Summary = summary
		} else {
			low = mid
		}
	}

	result.Salary = math.Ceil(high)
	return result
}

// FindPayoffSalaries runs FindPayoffSalary for each policy in order.
func FindPayoffSalaries(balance float64, policies []Policy, a Assumptions, low, high float64) []PayoffResult {
	results := make([]PayoffResult, 0, len(policies))
	for _, p := range policies {
		results = append(results, FindPayoffSalary(balance, p, a, low, high))
	}
	return results
}
