package main

import (
	"github.com/shopspring/decimal"
)

// reconcileTolerance is one penny
var reconcileTolerance = decimal.New(1, -2)

// Reconciliation checks that a run neither invented nor lost money:
// principal + interest must equal repaid + ending balance.
type Reconciliation struct {
	Principal     decimal.Decimal `json:"principal"`
	Interest      decimal.Decimal `json:"interest"`
	Repaid        decimal.Decimal `json:"repaid"`
	EndingBalance decimal.Decimal `json:"ending_balance"`
	Difference    decimal.Decimal `json:"difference"`
	Balanced      bool            `json:"balanced"`
}

// Reconcile compares the money flows of a summary in penny-rounded decimal arithmetic
func Reconcile(principal float64, s LifetimeSummary) Reconciliation {
	r := Reconciliation{
		Principal:     decimal.NewFromFloat(principal).Round(2),
		Interest:      decimal.NewFromFloat(s.TotalInterest).Round(2),
		Repaid:        decimal.NewFromFloat(s.TotalRepaid).Round(2),
		EndingBalance: decimal.NewFromFloat(s.EndingBalance).Round(2),
	}
	in := r.Principal.Add(r.Interest)
	out := r.Repaid.Add(r.EndingBalance)
	r.Difference = in.Sub(out)
	// Rounding each of four terms can drift by up to two pennies
	r.Balanced = r.Difference.Abs().LessThanOrEqual(reconcileTolerance.Mul(decimal.NewFromInt(2)))
	return r
}

// ReconcileTrace sums a yearly profile in decimal and returns repaid and interest totals
func ReconcileTrace(trace []YearTrace) (repaid, interest decimal.Decimal) {
	repaid, interest = decimal.Zero, decimal.Zero
	for _, y := range trace {
		repaid = repaid.Add(decimal.NewFromFloat(y.Repayment))
		interest = interest.Add(decimal.NewFromFloat(y.Interest))
	}
	return repaid.Round(2), interest.Round(2)
}
