package main

import (
	"fmt"
	"math"
	"testing"
)

// Repayment Recurrence Tests
//
// These tests check the lifetime and yearly simulators against closed-form
// results. With no repayments the balance is simple compound growth:
// B = P × (1 + r)^n
// With no interest every pound repaid is principal, so a repaid loan
// returns exactly P.

const moneyTolerance = 0.01 // £0.01 tolerance

const (
	testThreshold   = 29385.0
	testUpperCutoff = 49530.0
	testFloor       = 0.045
	testCeiling     = 0.078
	testBalance     = 45000.0
	frozenForever   = 9999 // Indexation start year never reached
)

func assertMoneyEquals(t *testing.T, expected, actual float64, description string) {
	t.Helper()
	if math.Abs(expected-actual) > moneyTolerance {
		t.Errorf("%s: expected £%.2f, got £%.2f (diff: £%.2f)",
			description, expected, actual, actual-expected)
	}
}

// testAssumptions mirrors the default configuration
func testAssumptions() Assumptions {
	return Assumptions{
		BaseYear:     2026,
		SalaryGrowth: 0.035,
		Rates: RateTable{
			Forecasts: map[int]float64{
				2024: 0.0331, 2025: 0.0416, 2026: 0.0308,
				2027: 0.0300, 2028: 0.0283, 2029: 0.0283,
			},
			LongTerm: 0.0239,
		},
	}
}

func currentSystemPolicy() Policy {
	return Policy{
		Key:           "current",
		Name:          "Current system",
		Threshold:     testThreshold,
		RepaymentRate: 0.09,
		WriteoffYears: 30,
		Interest:      SlidingInterest(testFloor, testCeiling, testUpperCutoff),
		IndexFrom:     2030,
	}
}

func interestCapPolicy() Policy {
	p := currentSystemPolicy()
	p.Key, p.Name = "interest_cap", "Cap interest at RPI"
	p.Interest = FlatInterest(testFloor)
	return p
}

func thresholdRaisePolicy() Policy {
	p := currentSystemPolicy()
	p.Key, p.Name = "threshold_raise", "Raise threshold to £40k"
	p.Threshold = 40000
	p.IndexFrom = 2027
	return p
}

func planFivePolicy() Policy {
	return Policy{
		Key:           "plan5",
		Name:          "Plan 5",
		Threshold:     25000,
		RepaymentRate: 0.09,
		WriteoffYears: 40,
		Interest:      FlatInterest(testFloor),
		IndexFrom:     2027,
	}
}

func allTestPolicies() []Policy {
	return []Policy{currentSystemPolicy(), interestCapPolicy(), thresholdRaisePolicy(), planFivePolicy()}
}

// =============================================================================
// Closed-Form Scenarios
// =============================================================================

func TestSimulateLifetime_IncomeBelowFrozenThreshold(t *testing.T) {
	// £25k never reaches a frozen £29,385 threshold, so nothing is repaid and
	// the balance compounds at 4.5% for the full 30-year term.
	a := testAssumptions()
	a.SalaryGrowth = 0
	policy := Policy{
		Key:           "frozen",
		Threshold:     testThreshold,
		RepaymentRate: 0.09,
		WriteoffYears: 30,
		Interest:      FlatInterest(0.045),
		IndexFrom:     frozenForever,
	}

	s := SimulateLifetime(25000, testBalance, policy, a)

	expected := testBalance * math.Pow(1.045, 30)
	if s.PaidOff {
		t.Error("Expected loan not to be paid off")
	}
	if s.TotalRepaid != 0 {
		t.Errorf("Expected nothing repaid, got £%.2f", s.TotalRepaid)
	}
	if s.YearsRepaying != 30 {
		t.Errorf("Expected years repaying clamped to 30, got %d", s.YearsRepaying)
	}
	assertMoneyEquals(t, expected, s.EndingBalance, "Ending balance")
	assertMoneyEquals(t, expected, s.WrittenOff, "Written off")
	assertMoneyEquals(t, expected-testBalance, s.TotalInterest, "Total interest")
}

func TestSimulateLifetime_HighEarnerNoInterest(t *testing.T) {
	// £100k at 9% over a £29,385 threshold repays £6,355 in year one.
	// With 3.5% salary growth the £45k is cleared in year 7.
	policy := Policy{
		Key:           "zero",
		Threshold:     testThreshold,
		RepaymentRate: 0.09,
		WriteoffYears: 30,
		Interest:      FlatInterest(0),
		IndexFrom:     frozenForever,
	}

	s := SimulateLifetime(100000, testBalance, policy, testAssumptions())

	if !s.PaidOff {
		t.Fatal("Expected loan to be paid off")
	}
	assertMoneyEquals(t, testBalance, s.TotalRepaid, "Total repaid")
	if s.TotalInterest != 0 {
		t.Errorf("Expected no interest, got £%.2f", s.TotalInterest)
	}
	if s.YearsRepaying != 7 {
		t.Errorf("Expected repayment to finish in year 7, got %d", s.YearsRepaying)
	}
	if s.EndingBalance != 0 || s.WrittenOff != 0 {
		t.Errorf("Expected nothing left, got ending £%.2f written off £%.2f", s.EndingBalance, s.WrittenOff)
	}
}

func TestSimulateLifetime_ZeroRepaymentRate(t *testing.T) {
	// Property: with a zero repayment rate nothing is ever repaid and the
	// loan always runs to write-off
	balances := []float64{0.01, 1000, 45000, 100000}

	for _, policy := range allTestPolicies() {
		policy.RepaymentRate = 0
		for _, balance := range balances {
			for _, income := range []float64{0, 30000, 150000} {
				s := SimulateLifetime(income, balance, policy, testAssumptions())
				if s.TotalRepaid != 0 {
					t.Errorf("%s: £%.0f balance, £%.0f income: repaid £%.2f with zero rate",
						policy.Key, balance, income, s.TotalRepaid)
				}
				if s.PaidOff {
					t.Errorf("%s: £%.0f balance, £%.0f income: paid off with zero rate",
						policy.Key, balance, income)
				}
				if s.YearsRepaying != policy.WriteoffYears {
					t.Errorf("%s: expected %d years, got %d", policy.Key, policy.WriteoffYears, s.YearsRepaying)
				}
			}
		}
	}
}

func TestSimulateLifetime_ZeroBalanceIsPaidOff(t *testing.T) {
	s := SimulateLifetime(50000, 0, currentSystemPolicy(), testAssumptions())

	if !s.PaidOff {
		t.Error("A zero balance should count as paid off")
	}
	if s.TotalRepaid != 0 || s.TotalInterest != 0 || s.YearsRepaying != 0 {
		t.Errorf("Expected an empty run, got %+v", s)
	}
}

func TestSimulateLifetime_ZeroTerm(t *testing.T) {
	policy := currentSystemPolicy()
	policy.WriteoffYears = 0

	s := SimulateLifetime(80000, testBalance, policy, testAssumptions())

	if s.PaidOff {
		t.Error("Expected immediate write-off")
	}
	assertMoneyEquals(t, testBalance, s.WrittenOff, "Written off")
	if s.YearsRepaying != 0 {
		t.Errorf("Expected 0 years, got %d", s.YearsRepaying)
	}
}

func TestSimulateLifetime_PolicyOrdering(t *testing.T) {
	// A £30k graduate repays less when the threshold rises to £40k and is
	// charged less interest when it is capped at the floor rate
	a := testAssumptions()
	current := SimulateLifetime(30000, testBalance, currentSystemPolicy(), a)
	capped := SimulateLifetime(30000, testBalance, interestCapPolicy(), a)
	raised := SimulateLifetime(30000, testBalance, thresholdRaisePolicy(), a)

	if raised.TotalRepaid >= current.TotalRepaid {
		t.Errorf("Threshold raise should reduce repayments: £%.0f vs £%.0f", raised.TotalRepaid, current.TotalRepaid)
	}
	if capped.TotalInterest > current.TotalInterest {
		t.Errorf("Interest cap should not add interest: £%.0f vs £%.0f", capped.TotalInterest, current.TotalInterest)
	}
	if current.PaidOff {
		t.Error("A £30k starting salary should not clear £45k under the current system")
	}
}

// =============================================================================
// Yearly Trace Tests
// =============================================================================

func TestSimulateYearly_MatchesLifetime(t *testing.T) {
	// Property: summing a trace's repayments up to the write-off term gives
	// the lifetime total for the same inputs
	a := testAssumptions()
	for _, policy := range allTestPolicies() {
		for salary := 20000.0; salary <= 120000; salary += 5000 {
			summary := SimulateLifetime(salary, testBalance, policy, a)
			trace := SimulateYearly(salary, testBalance, policy, a, 50)

			assertMoneyEquals(t, summary.TotalRepaid, TotalRepaidWithin(trace, policy.WriteoffYears),
				fmt.Sprintf("%s repaid at £%.0f", policy.Key, salary))
		}
	}
}

func TestSimulateYearly_DefaultHorizon(t *testing.T) {
	trace := SimulateYearly(30000, testBalance, currentSystemPolicy(), testAssumptions(), 0)

	if len(trace) != DefaultTraceHorizon {
		t.Fatalf("Expected %d years, got %d", DefaultTraceHorizon, len(trace))
	}
	for i, y := range trace {
		if y.Year != i+1 {
			t.Errorf("Row %d: expected year %d, got %d", i, i+1, y.Year)
		}
		if y.CalendarYear != 2026+i+1 {
			t.Errorf("Row %d: expected calendar year %d, got %d", i, 2026+i+1, y.CalendarYear)
		}
	}
}

func TestSimulateYearly_ZeroFillAfterWriteoff(t *testing.T) {
	// £25k under the current system never clears the loan, so year 30 still
	// carries a balance and year 31 onwards is wiped
	a := testAssumptions()
	trace := SimulateYearly(25000, testBalance, currentSystemPolicy(), a, 40)

	if trace[29].Balance <= 0 {
		t.Fatalf("Expected a balance in year 30, got £%.2f", trace[29].Balance)
	}
	for _, y := range trace[30:] {
		if y.Repayment != 0 || y.Interest != 0 || y.Balance != 0 || y.InterestRate != 0 {
			t.Errorf("Year %d: expected a wiped row, got %+v", y.Year, y)
		}
	}
	// Earnings keep growing through the wiped years
	for i := 30; i < len(trace); i++ {
		assertMoneyEquals(t, trace[i-1].Income*(1+a.SalaryGrowth), trace[i].Income,
			fmt.Sprintf("Income in year %d", trace[i].Year))
	}
}

func TestSimulateYearly_ZeroFillAfterPayoff(t *testing.T) {
	policy := currentSystemPolicy()
	trace := SimulateYearly(90000, testBalance, policy, testAssumptions(), 40)
	summary := SimulateLifetime(90000, testBalance, policy, testAssumptions())

	if !summary.PaidOff {
		t.Fatal("Expected a £90k earner to repay in full")
	}
	last := summary.YearsRepaying
	if trace[last-1].Repayment <= 0 {
		t.Errorf("Expected a repayment in the final year %d", last)
	}
	for _, y := range trace[last:] {
		if y.Repayment != 0 || y.Balance != 0 {
			t.Errorf("Year %d: expected zero after payoff, got repayment £%.2f balance £%.2f",
				y.Year, y.Repayment, y.Balance)
		}
	}
}

func TestSimulateYearly_ThresholdIndexation(t *testing.T) {
	// Frozen for 2027-2029, then uprated from 2030 by the long-run rate
	a := testAssumptions()
	trace := SimulateYearly(30000, testBalance, currentSystemPolicy(), a, 5)

	for _, y := range trace[:3] {
		assertMoneyEquals(t, testThreshold, y.Threshold, fmt.Sprintf("Frozen threshold in %d", y.CalendarYear))
	}
	expected2030 := testThreshold * (1 + a.Rates.LongTerm)
	assertMoneyEquals(t, expected2030, trace[3].Threshold, "Threshold in 2030")
	assertMoneyEquals(t, expected2030*(1+a.Rates.LongTerm), trace[4].Threshold, "Threshold in 2031")
}

func TestSimulateYearly_IndexationUsesForecasts(t *testing.T) {
	// Indexed from 2027, the first three years use the pinned forecasts
	a := testAssumptions()
	trace := SimulateYearly(30000, testBalance, thresholdRaisePolicy(), a, 3)

	expected := 40000.0
	for i, year := range []int{2027, 2028, 2029} {
		expected *= 1 + a.Rates.Forecasts[year]
		assertMoneyEquals(t, expected, trace[i].Threshold, fmt.Sprintf("Threshold in %d", year))
	}
}

func TestTotalRepaidWithin(t *testing.T) {
	trace := []YearTrace{
		{Year: 1, Repayment: 100},
		{Year: 2, Repayment: 200},
		{Year: 3, Repayment: 300},
	}

	tests := []struct {
		years       int
		expected    float64
		description string
	}{
		{0, 0, "no years"},
		{2, 300, "first two years"},
		{3, 600, "whole trace"},
		{10, 600, "beyond the trace"},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			assertMoneyEquals(t, tc.expected, TotalRepaidWithin(trace, tc.years), tc.description)
		})
	}
}
