package main

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SweepRow holds every compared policy's outcome at one starting salary
type SweepRow struct {
	Salary  float64                    `json:"salary"`
	Results map[string]LifetimeSummary `json:"results"`
}

// Saving returns how much less is repaid under key than under baseline
func (r SweepRow) Saving(baseline, key string) float64 {
	return r.Results[baseline].TotalRepaid - r.Results[key].TotalRepaid
}

// SweepReport is a complete salary sweep
type SweepReport struct {
	RunID    string        `json:"run_id"`
	Balance  float64       `json:"balance"`
	Policies []Policy      `json:"policies"`
	Baseline string        `json:"baseline"`
	Rows     []SweepRow    `json:"rows"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// SalaryGrid generates salaries from min to max inclusive in fixed steps
func SalaryGrid(min, max, step float64) []float64 {
	if step <= 0 || max < min {
		return nil
	}
	n := int(math.Floor((max-min)/step+1e-9)) + 1
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = min + float64(i)*step // index-based to avoid accumulating float error
	}
	return grid
}

func workerLimit(workers int) int {
	if workers <= 0 {
		return runtime.NumCPU()
	}
	return workers
}

// RunSalarySweep simulates every policy at every salary in the grid
func RunSalarySweep(ctx context.Context, sim *Simulator, grid []float64, balance float64, policies []Policy, workers int) ([]SweepRow, error) {
	rows := make([]SweepRow, len(grid))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(workers))

	for i, salary := range grid {
		i, salary := i, salary
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row := SweepRow{Salary: salary, Results: make(map[string]LifetimeSummary, len(policies))}
			for _, p := range policies {
				row.Results[p.Key] = sim.Lifetime(ctx, salary, balance, p)
			}
			rows[i] = row
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// NewSweepReport runs a sweep and stamps it with a run ID
func NewSweepReport(ctx context.Context, sim *Simulator, grid []float64, balance float64, policies []Policy, baseline string, workers int) (*SweepReport, error) {
	runID := uuid.NewString()
	start := time.Now()

	sim.logger.Info().
		Str("run_id", runID).
		Int("salaries", len(grid)).
		Int("policies", len(policies)).
		Msg("starting salary sweep")

	rows, err := RunSalarySweep(ctx, sim, grid, balance, policies, workers)
	if err != nil {
		sim.logger.Error().Err(err).Str("run_id", runID).Msg("salary sweep aborted")
		return nil, err
	}

	report := &SweepReport{
		RunID:    runID,
		Balance:  balance,
		Policies: policies,
		Baseline: baseline,
		Rows:     rows,
		Elapsed:  time.Since(start),
	}
	sim.logger.Info().Str("run_id", runID).Dur("elapsed", report.Elapsed).Msg("salary sweep finished")
	return report, nil
}

// SweepStats summarises one policy across a sweep
type SweepStats struct {
	Key             string  `json:"key"`
	PaidOffCount    int     `json:"paid_off_count"`
	FirstPaidOff    float64 `json:"first_paid_off_salary"` // Lowest salary that repays in full; 0 if none
	MaxRepaid       float64 `json:"max_repaid"`
	MaxRepaidSalary float64 `json:"max_repaid_salary"`
	MeanRepaid      float64 `json:"mean_repaid"`
	MeanWrittenOff  float64 `json:"mean_written_off"`
	MaxSaving       float64 `json:"max_saving"`
	MaxSavingSalary float64 `json:"max_saving_salary"`
}

// Stats computes per-policy aggregates for a report
func (r *SweepReport) Stats() []SweepStats {
	stats := make([]SweepStats, 0, len(r.Policies))
	for _, p := range r.Policies {
		s := SweepStats{Key: p.Key, MaxSaving: math.Inf(-1)}
		var repaid, writtenOff float64
		for _, row := range r.Rows {
			res := row.Results[p.Key]
			repaid += res.TotalRepaid
			writtenOff += res.WrittenOff
			if res.PaidOff {
				if s.PaidOffCount == 0 {
					s.FirstPaidOff = row.Salary
				}
				s.PaidOffCount++
			}
			if res.TotalRepaid > s.MaxRepaid {
				s.MaxRepaid, s.MaxRepaidSalary = res.TotalRepaid, row.Salary
			}
			if saving := row.Saving(r.Baseline, p.Key); saving > s.MaxSaving {
				s.MaxSaving, s.MaxSavingSalary = saving, row.Salary
			}
		}
		if n := float64(len(r.Rows)); n > 0 {
			s.MeanRepaid = repaid / n
			s.MeanWrittenOff = writtenOff / n
		}
		if math.IsInf(s.MaxSaving, -1) {
			s.MaxSaving = 0
		}
		stats = append(stats, s)
	}
	return stats
}
