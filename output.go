package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// FormatMoney formats a float as a short currency string
func FormatMoney(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if amount >= 1000000 {
		return fmt.Sprintf("%s£%.2fM", sign, amount/1000000)
	}
	if amount >= 1000 {
		return fmt.Sprintf("%s£%.1fk", sign, amount/1000)
	}
	return fmt.Sprintf("%s£%.0f", sign, amount)
}

// FormatMoneyFull formats a float as whole pounds with thousands separators
func FormatMoneyFull(amount float64) string {
	rounded := math.Round(amount)
	if rounded == 0 {
		rounded = 0 // Drop the sign of -0
	}
	sign := ""
	if rounded < 0 {
		sign = "-"
		rounded = -rounded
	}
	digits := strconv.FormatFloat(rounded, 'f', 0, 64)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + "£" + b.String()
}

func formatPercent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

// PrintHeader prints the resolved parameters and the policies being compared
func PrintHeader(w io.Writer, config *Config, params PlanParameters, policies []Policy) {
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                 STUDENT LOAN REPAYMENT POLICY COMPARISON                     ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Parameters:")
	fmt.Fprintln(w, "───────────")
	fmt.Fprintf(w, "  Plan 2 threshold: %s | Plan 5 threshold: %s\n",
		FormatMoneyFull(params.Plan2Threshold), FormatMoneyFull(params.Plan5Threshold))
	fmt.Fprintf(w, "  Interest range: %s to %s | Repayment rate: %.0f%%\n",
		formatPercent(params.InterestFloor), formatPercent(params.InterestCeiling), params.RepaymentRate*100)
	fmt.Fprintf(w, "  Loan: %s | Salary growth: %s | Base year: %d | Long-run RPI: %s\n",
		FormatMoneyFull(config.Loan.Balance), formatPercent(config.Assumptions.SalaryGrowth),
		config.Assumptions.BaseYear, formatPercent(config.Assumptions.Rates.LongTerm))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d scenarios:\n", len(policies))
	for _, p := range policies {
		fmt.Fprintf(w, "  %s: threshold %s, indexed from %d, interest=%s, %d-year write-off\n",
			p.Name, FormatMoneyFull(p.Threshold), p.IndexFrom, p.Interest.Describe(), p.WriteoffYears)
	}
	fmt.Fprintln(w)
}

// PrintProfiles prints lifetime outcomes for the typical graduate profiles
func PrintProfiles(ctx context.Context, w io.Writer, sim *Simulator, profiles []ProfileConfig, balance float64, policies []Policy) {
	fmt.Fprintln(w, "=== Typical Graduate Profiles ===")
	for _, prof := range profiles {
		fmt.Fprintf(w, "\n  %s (%s starting salary):\n", prof.Label, FormatMoneyFull(prof.Salary))
		for _, p := range policies {
			s := sim.Lifetime(ctx, prof.Salary, balance, p)
			fmt.Fprintf(w, "    %s: repays %s over %d years %s\n",
				p.Name, FormatMoneyFull(s.TotalRepaid), s.YearsRepaying, s.Status())
		}
	}
	fmt.Fprintln(w)
}

// PrintSweepSummary prints per-policy aggregates and a sampled salary table
func PrintSweepSummary(w io.Writer, report *SweepReport, showSavings bool) {
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                        LIFETIME REPAYMENT BY SALARY                          ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintf(w, "Run %s: %d salaries, %s loan\n\n", report.RunID, len(report.Rows), FormatMoneyFull(report.Balance))

	fmt.Fprintf(w, "%-10s", "Salary")
	for _, p := range report.Policies {
		fmt.Fprintf(w, " │ %-22s", truncate(p.Name, 22))
	}
	fmt.Fprintln(w)
	width := 10 + len(report.Policies)*25
	fmt.Fprintln(w, strings.Repeat("─", width))

	// Print every £5k and the ends of the grid
	for i, row := range report.Rows {
		isKeyRow := i == 0 || i == len(report.Rows)-1 || math.Mod(row.Salary, 5000) == 0
		if !isKeyRow {
			continue
		}
		fmt.Fprintf(w, "%-10s", FormatMoney(row.Salary))
		for _, p := range report.Policies {
			res := row.Results[p.Key]
			cell := fmt.Sprintf("%s %2dy", FormatMoney(res.TotalRepaid), res.YearsRepaying)
			if res.PaidOff {
				cell += " ✓"
			}
			fmt.Fprintf(w, " │ %-22s", cell)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, strings.Repeat("─", width))
	fmt.Fprintln(w, "  ✓ = repaid in full before write-off")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Summary:")
	for _, s := range report.Stats() {
		name := policyName(report.Policies, s.Key)
		fmt.Fprintf(w, "  %s: mean repaid %s, mean written off %s, peak %s at %s",
			name, FormatMoneyFull(s.MeanRepaid), FormatMoneyFull(s.MeanWrittenOff),
			FormatMoneyFull(s.MaxRepaid), FormatMoney(s.MaxRepaidSalary))
		if s.PaidOffCount > 0 {
			fmt.Fprintf(w, ", repays in full from %s", FormatMoney(s.FirstPaidOff))
		}
		fmt.Fprintln(w)
	}

	if showSavings {
		fmt.Fprintln(w)
		printSavings(w, report)
	}
	fmt.Fprintln(w)
}

func printSavings(w io.Writer, report *SweepReport) {
	fmt.Fprintf(w, "Reduction in lifetime repayment vs %s:\n", policyName(report.Policies, report.Baseline))
	fmt.Fprintf(w, "%-10s", "Salary")
	var others []Policy
	for _, p := range report.Policies {
		if p.Key != report.Baseline {
			others = append(others, p)
			fmt.Fprintf(w, " │ %-22s", truncate(p.Name, 22))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("─", 10+len(others)*25))
	for _, row := range report.Rows {
		if math.Mod(row.Salary, 10000) != 0 {
			continue
		}
		fmt.Fprintf(w, "%-10s", FormatMoney(row.Salary))
		for _, p := range others {
			fmt.Fprintf(w, " │ %-22s", FormatMoney(row.Saving(report.Baseline, p.Key)))
		}
		fmt.Fprintln(w)
	}
	for _, s := range report.Stats() {
		if s.Key == report.Baseline {
			continue
		}
		fmt.Fprintf(w, "  %s saves most at %s (%s)\n",
			policyName(report.Policies, s.Key), FormatMoney(s.MaxSavingSalary), FormatMoneyFull(s.MaxSaving))
	}
}

// PrintTrace prints a yearly repayment profile
func PrintTrace(w io.Writer, label string, policy Policy, trace []YearTrace) {
	fmt.Fprintf(w, "\n=== %s: %s ===\n", label, policy.Name)
	fmt.Fprintf(w, "%-5s %-6s │ %10s %10s %6s │ %10s %10s │ %12s\n",
		"Year", "Cal", "Income", "Threshold", "Rate", "Repayment", "Interest", "Balance")
	fmt.Fprintln(w, strings.Repeat("─", 86))
	for _, y := range trace {
		fmt.Fprintf(w, "%-5d %-6d │ %10s %10s %6s │ %10s %10s │ %12s\n",
			y.Year, y.CalendarYear,
			FormatMoney(y.Income), FormatMoney(y.Threshold), formatPercent(y.InterestRate),
			FormatMoneyFull(y.Repayment), FormatMoneyFull(y.Interest), FormatMoneyFull(y.Balance))
	}
	fmt.Fprintln(w, strings.Repeat("─", 86))
	repaid, interest := ReconcileTrace(trace)
	fmt.Fprintf(w, "  Total repaid: %s | Interest charged: %s\n",
		FormatMoneyFull(repaid.InexactFloat64()), FormatMoneyFull(interest.InexactFloat64()))
}

// PrintPayoffSalaries prints the salary from which each policy is repaid in full
func PrintPayoffSalaries(w io.Writer, results []PayoffResult, policies []Policy) {
	fmt.Fprintln(w, "Salary needed to repay in full before write-off:")
	for _, r := range results {
		name := policyName(policies, r.Policy)
		if !r.Found {
			fmt.Fprintf(w, "  %-28s never (written off at every salary searched)\n", truncate(name, 28))
			continue
		}
		fmt.Fprintf(w, "  %-28s %s (cleared in year %d, %s repaid)\n",
			truncate(name, 28), FormatMoneyFull(r.Salary), r.Summary.YearsRepaying, FormatMoneyFull(r.Summary.TotalRepaid))
	}
	fmt.Fprintln(w)
}

// PrintDecileTable prints weighted average outcomes by income decile
func PrintDecileTable(w io.Writer, rows []DecileRow, baseline Policy, other Policy) {
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                 AVERAGE LIFETIME REPAYMENT BY INCOME DECILE                  ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintf(w, "%-7s %6s %12s │ %-14s │ %-14s │ %12s\n",
		"Decile", "Count", "Weight", truncate(baseline.Name, 14), truncate(other.Name, 14), "Difference")
	fmt.Fprintln(w, strings.Repeat("─", 80))
	for _, row := range rows {
		fmt.Fprintf(w, "%-7d %6d %12.0f │ %-14s │ %-14s │ %12s\n",
			row.Decile, row.Count, row.Weight,
			FormatMoneyFull(row.Repaid[baseline.Key]),
			FormatMoneyFull(row.Repaid[other.Key]),
			FormatMoneyFull(row.Difference(baseline.Key, other.Key)))
	}
	fmt.Fprintln(w, strings.Repeat("─", 80))
	fmt.Fprintln(w)
}

func policyName(policies []Policy, key string) string {
	for _, p := range policies {
		if p.Key == key {
			return p.Name
		}
	}
	return key
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
