package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Individual is one microdata record
type Individual struct {
	ID     string  `json:"id"`
	Income float64 `json:"income"`
	Weight float64 `json:"weight"`
	Decile int     `json:"decile"` // Household income decile, 1-based
	Plan   string  `json:"plan"`   // Loan plan label, e.g. PLAN_2
}

// PopulationFilter selects the records worth simulating
type PopulationFilter struct {
	Plans          []string // Keep only these plan labels; empty keeps all
	PositiveIncome bool
}

// Matches reports whether an individual passes the filter
func (f PopulationFilter) Matches(ind Individual) bool {
	if f.PositiveIncome && ind.Income <= 0 {
		return false
	}
	if len(f.Plans) == 0 {
		return true
	}
	for _, plan := range f.Plans {
		if strings.EqualFold(plan, ind.Plan) {
			return true
		}
	}
	return false
}

// FilterPopulation returns the records that pass f
func FilterPopulation(people []Individual, f PopulationFilter) []Individual {
	kept := make([]Individual, 0, len(people))
	for _, ind := range people {
		if f.Matches(ind) {
			kept = append(kept, ind)
		}
	}
	return kept
}

// PopulationSource provides microdata
type PopulationSource interface {
	LoadPopulation(ctx context.Context, filter PopulationFilter) ([]Individual, error)
}

// CSVPopulationSource reads id,income,weight,decile,plan records with a header row
type CSVPopulationSource struct {
	Path string
}

var populationColumns = []string{"id", "income", "weight", "decile", "plan"}

func (s CSVPopulationSource) LoadPopulation(ctx context.Context, filter PopulationFilter) ([]Individual, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open population file: %w", err)
	}
	defer f.Close()

	people, err := ReadPopulationCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return FilterPopulation(people, filter), nil
}

// ReadPopulationCSV parses population records; columns may appear in any order
func ReadPopulationCSV(r io.Reader) ([]Individual, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range populationColumns {
		if _, ok := index[col]; !ok {
			return nil, ValidationError{Field: col, Message: fmt.Sprintf("Missing column %q", col)}
		}
	}

	var people []Individual
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ind := Individual{
			ID:   record[index["id"]],
			Plan: strings.ToUpper(strings.TrimSpace(record[index["plan"]])),
		}
		if ind.Income, err = strconv.ParseFloat(record[index["income"]], 64); err != nil {
			return nil, fmt.Errorf("line %d: invalid income: %w", line, err)
		}
		if ind.Weight, err = strconv.ParseFloat(record[index["weight"]], 64); err != nil {
			return nil, fmt.Errorf("line %d: invalid weight: %w", line, err)
		}
		if ind.Decile, err = strconv.Atoi(record[index["decile"]]); err != nil {
			return nil, fmt.Errorf("line %d: invalid decile: %w", line, err)
		}
		people = append(people, ind)
	}
	return people, nil
}

// WeightedAverage returns sum(v*w)/sum(w), or 0 for an empty or weightless group
func WeightedAverage(values, weights []float64) float64 {
	var sum, total float64
	for i := range values {
		if i >= len(weights) {
			break
		}
		sum += values[i] * weights[i]
		total += weights[i]
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// DecileRow is the weighted average outcome per policy for one decile
type DecileRow struct {
	Decile     int                `json:"decile"`
	Count      int                `json:"count"`
	Weight     float64            `json:"weight"`
	Repaid     map[string]float64 `json:"repaid"`
	Interest   map[string]float64 `json:"interest"`
	WrittenOff map[string]float64 `json:"written_off"`
	Years      map[string]float64 `json:"years"`
}

// Difference returns the weighted average repaid under key minus baseline
func (d DecileRow) Difference(baseline, key string) float64 {
	return d.Repaid[key] - d.Repaid[baseline]
}

// RunDecileSweep simulates every individual under every policy and averages by decile.
// Records outside 1..deciles are skipped.
func RunDecileSweep(ctx context.Context, sim *Simulator, people []Individual, balance float64, policies []Policy, deciles, workers int) ([]DecileRow, error) {
	if deciles <= 0 {
		deciles = 10
	}

	results := make([]map[string]LifetimeSummary, len(people))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(workers))
	for i, ind := range people {
		if ind.Decile < 1 || ind.Decile > deciles {
			continue
		}
		i, ind := i, ind
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := make(map[string]LifetimeSummary, len(policies))
			for _, p := range policies {
				res[p.Key] = sim.Lifetime(gctx, ind.Income, balance, p)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type group struct {
		weights  []float64
		repaid   map[string][]float64
		interest map[string][]float64
		written  map[string][]float64
		years    map[string][]float64
	}
	groups := make([]group, deciles)
	for i := range groups {
		groups[i] = group{
			repaid:   make(map[string][]float64),
			interest: make(map[string][]float64),
			written:  make(map[string][]float64),
			years:    make(map[string][]float64),
		}
	}

	skipped := 0
	for i, ind := range people {
		res := results[i]
		if res == nil {
			skipped++
			continue
		}
		grp := &groups[ind.Decile-1]
		grp.weights = append(grp.weights, ind.Weight)
		for _, p := range policies {
			s := res[p.Key]
			grp.repaid[p.Key] = append(grp.repaid[p.Key], s.TotalRepaid)
			grp.interest[p.Key] = append(grp.interest[p.Key], s.TotalInterest)
			grp.written[p.Key] = append(grp.written[p.Key], s.WrittenOff)
			grp.years[p.Key] = append(grp.years[p.Key], float64(s.YearsRepaying))
		}
	}
	if skipped > 0 {
		sim.logger.Warn().Int("skipped", skipped).Int("deciles", deciles).Msg("ignored records outside decile range")
	}

	rows := make([]DecileRow, deciles)
	for i, grp := range groups {
		row := DecileRow{
			Decile:     i + 1,
			Count:      len(grp.weights),
			Repaid:     make(map[string]float64, len(policies)),
			Interest:   make(map[string]float64, len(policies)),
			WrittenOff: make(map[string]float64, len(policies)),
			Years:      make(map[string]float64, len(policies)),
		}
		for _, w := range grp.weights {
			row.Weight += w
		}
		for _, p := range policies {
			row.Repaid[p.Key] = WeightedAverage(grp.repaid[p.Key], grp.weights)
			row.Interest[p.Key] = WeightedAverage(grp.interest[p.Key], grp.weights)
			row.WrittenOff[p.Key] = WeightedAverage(grp.written[p.Key], grp.weights)
			row.Years[p.Key] = WeightedAverage(grp.years[p.Key], grp.weights)
		}
		rows[i] = row
	}
	return rows, nil
}

// OpenPopulationSource picks a source implementation from the file extension
func OpenPopulationSource(path string) (PopulationSource, func() error, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return CSVPopulationSource{Path: path}, func() error { return nil }, nil
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		store, err := NewPopulationStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, ValidationError{Field: "population.source", Message: fmt.Sprintf("Unsupported population source %q (use .csv or .db)", path)}
	}
}
