package main

import (
	"math"
)

// DefaultTraceHorizon is the number of years charted in a yearly repayment profile
const DefaultTraceHorizon = 40

// Assumptions are the economic inputs shared by every simulated lifetime
type Assumptions struct {
	BaseYear     int       `yaml:"base_year" json:"base_year"`         // Calendar year before the first repayment year
	SalaryGrowth float64   `yaml:"salary_growth" json:"salary_growth"` // Annual nominal earnings growth
	Rates        RateTable `yaml:"rpi" json:"rpi"`                     // Threshold indexation rates
}

// loanState is the mutable state of a single run
type loanState struct {
	balance   float64
	income    float64
	threshold float64
}

// advanceThreshold uprates the threshold once indexation has started for the policy
func (s *loanState) advanceThreshold(calendarYear int, policy Policy, a Assumptions) {
	if calendarYear >= policy.IndexFrom {
		s.threshold *= 1 + a.Rates.RateForYear(calendarYear)
	}
}

// repay takes this year's income-contingent repayment, never more than the balance
func (s *loanState) repay(policy Policy) float64 {
	repayment := math.Max(0, (s.income-s.threshold)*policy.RepaymentRate)
	actual := math.Min(repayment, s.balance)
	s.balance -= actual
	return actual
}

// accrue charges interest on the post-repayment balance
func (s *loanState) accrue(policy Policy) (rate, interest float64) {
	rate = policy.Interest.RateFor(s.income, s.threshold)
	interest = rate * s.balance
	s.balance += interest
	return rate, interest
}

func (s *loanState) growIncome(a Assumptions) {
	s.income *= 1 + a.SalaryGrowth
}

// SimulateLifetime runs the repayment recurrence until the loan is repaid or written off
func SimulateLifetime(startingIncome, initialBalance float64, policy Policy, a Assumptions) LifetimeSummary {
	state := loanState{
		balance:   initialBalance,
		income:    startingIncome,
		threshold: policy.Threshold,
	}

	var summary LifetimeSummary
	lastRepayingYear := 0

	for year := 1; year <= policy.WriteoffYears; year++ {
		if state.balance <= 0 {
			break
		}

		state.advanceThreshold(a.BaseYear+year, policy, a)

		actual := state.repay(policy)
		summary.TotalRepaid += actual
		if actual > 0 {
			lastRepayingYear = year
		}

		_, interest := state.accrue(policy)
		summary.TotalInterest += interest

		state.growIncome(a)
	}

	summary.PaidOff = state.balance <= 0
	summary.EndingBalance = math.Max(0, state.balance)
	if summary.PaidOff {
		summary.YearsRepaying = lastRepayingYear
	} else {
		summary.YearsRepaying = policy.WriteoffYears
		summary.WrittenOff = summary.EndingBalance
	}
	return summary
}

// SimulateYearly runs the same recurrence over a reporting horizon and records every year.
// Once the term has passed or the balance is gone, the remaining years are zero-filled.
func SimulateYearly(startingIncome, initialBalance float64, policy Policy, a Assumptions, horizon int) []YearTrace {
	if horizon <= 0 {
		horizon = DefaultTraceHorizon
	}

	state := loanState{
		balance:   initialBalance,
		income:    startingIncome,
		threshold: policy.Threshold,
	}
	yearly := make([]YearTrace, 0, horizon)

	for year := 1; year <= horizon; year++ {
		calendarYear := a.BaseYear + year

		// After write-off the balance is wiped, not merely idle
		if year > policy.WriteoffYears || state.balance <= 0 {
			yearly = append(yearly, YearTrace{
				Year:         year,
				CalendarYear: calendarYear,
				Income:       state.income,
				Threshold:    state.threshold,
			})
			// Earnings keep compounding through the wiped years
			state.growIncome(a)
			continue
		}

		state.advanceThreshold(calendarYear, policy, a)
		entry := YearTrace{
			Year:         year,
			CalendarYear: calendarYear,
			Income:       state.income,
			Threshold:    state.threshold,
		}

		entry.Repayment = state.repay(policy)
		entry.InterestRate, entry.Interest = state.accrue(policy)
		entry.Balance = math.Max(0, state.balance)

		yearly = append(yearly, entry)
		state.growIncome(a)
	}

	return yearly
}

// TotalRepaidWithin sums traced repayments over the first years of a profile
func TotalRepaidWithin(trace []YearTrace, years int) float64 {
	total := 0.0
	for _, y := range trace {
		if y.Year > years {
			break
		}
		total += y.Repayment
	}
	return total
}
