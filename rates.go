package main

import "sort"

// RateTable holds inflation forecasts by calendar year.
// Years outside the forecast horizon use LongTerm.
type RateTable struct {
	Forecasts map[int]float64 `yaml:"forecasts" json:"forecasts"`
	LongTerm  float64         `yaml:"long_term" json:"long_term"`
}

// RateForYear returns the forecast for year, or the long-run rate beyond the table
func (t RateTable) RateForYear(year int) float64 {
	if rate, ok := t.Forecasts[year]; ok {
		return rate
	}
	return t.LongTerm
}

// Years returns the forecast years in ascending order
func (t RateTable) Years() []int {
	years := make([]int, 0, len(t.Forecasts))
	for y := range t.Forecasts {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// RateFor returns the annual interest rate charged at the given income and threshold
func (r InterestRule) RateFor(income, threshold float64) float64 {
	if r.Kind != InterestSliding {
		return r.Rate
	}
	if income <= threshold {
		return r.Floor
	}
	// Empty band: a threshold indexed up to or past the cutoff leaves nothing to interpolate over
	if r.UpperCutoff <= threshold || income >= r.UpperCutoff {
		return r.Ceiling
	}
	return r.Floor + (r.Ceiling-r.Floor)*((income-threshold)/(r.UpperCutoff-threshold))
}
