package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed default-parameters.yaml
var defaultParametersYAML string

// Loan plan labels as they appear in microdata and config
const (
	PlanTwo  = "plan_2"
	PlanFive = "plan_5"
)

// Hardcoded fallbacks used when no parameter history can be read
const (
	fallbackPlan2Threshold  = 29385.0
	fallbackPlan5Threshold  = 25000.0
	fallbackRepaymentRate   = 0.09
	fallbackInterestFloor   = 0.045
	fallbackInterestCeiling = 0.078
)

// ErrNoParameterValue is returned when a parameter has no entry on or before the reference date
var ErrNoParameterValue = errors.New("no parameter value in force")

// PlanParameters are the scalar policy values in force on a reference date
type PlanParameters struct {
	Plan2Threshold  float64 `json:"plan2_threshold"`
	Plan5Threshold  float64 `json:"plan5_threshold"`
	RepaymentRate   float64 `json:"repayment_rate"`
	InterestFloor   float64 `json:"interest_floor"`   // Plan 2 rate at or below the threshold
	InterestCeiling float64 `json:"interest_ceiling"` // Plan 2 rate at or above the upper cutoff
}

// FallbackParameters returns the built-in values
func FallbackParameters() PlanParameters {
	return PlanParameters{
		Plan2Threshold:  fallbackPlan2Threshold,
		Plan5Threshold:  fallbackPlan5Threshold,
		RepaymentRate:   fallbackRepaymentRate,
		InterestFloor:   fallbackInterestFloor,
		InterestCeiling: fallbackInterestCeiling,
	}
}

// ThresholdFor returns the repayment threshold for a plan label
func (p PlanParameters) ThresholdFor(plan string) float64 {
	if plan == PlanFive {
		return p.Plan5Threshold
	}
	return p.Plan2Threshold
}

// ParameterProvider supplies policy parameters as of a date
type ParameterProvider interface {
	ParametersAt(ctx context.Context, date civil.Date) (PlanParameters, error)
}

// datedValues maps "YYYY-MM-DD" effective dates to values
type datedValues map[string]float64

// valueAt returns the latest value effective on or before date
func (v datedValues) valueAt(date civil.Date) (float64, error) {
	var (
		best  civil.Date
		value float64
		found bool
	)
	for key, val := range v {
		effective, err := civil.ParseDate(key)
		if err != nil {
			return 0, fmt.Errorf("invalid effective date %q: %w", key, err)
		}
		if effective.After(date) {
			continue
		}
		if !found || effective.After(best) {
			best, value, found = effective, val, true
		}
	}
	if !found {
		return 0, ErrNoParameterValue
	}
	return value, nil
}

type parameterHistory struct {
	RepaymentRate datedValues `yaml:"repayment_rate"`
	Thresholds    struct {
		Plan2 datedValues `yaml:"plan_2"`
		Plan5 datedValues `yaml:"plan_5"`
	} `yaml:"thresholds"`
	Interest struct {
		Plan2 struct {
			RateBelowThreshold datedValues `yaml:"rate_below_threshold"`
			RateAboveThreshold datedValues `yaml:"rate_above_threshold"`
		} `yaml:"plan_2"`
	} `yaml:"interest"`
}

// YAMLParameterProvider reads a dated parameter history
type YAMLParameterProvider struct {
	history parameterHistory
}

// NewYAMLParameterProvider parses a parameter history document
func NewYAMLParameterProvider(data []byte) (*YAMLParameterProvider, error) {
	var history parameterHistory
	if err := yaml.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse parameter history: %w", err)
	}
	return &YAMLParameterProvider{history: history}, nil
}

// LoadParameterProvider reads the history from file, or the embedded default when file is empty
func LoadParameterProvider(file string) (*YAMLParameterProvider, error) {
	if file == "" {
		return NewYAMLParameterProvider([]byte(defaultParametersYAML))
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter history: %w", err)
	}
	return NewYAMLParameterProvider(data)
}

// ParametersAt returns every parameter in force on date
func (p *YAMLParameterProvider) ParametersAt(ctx context.Context, date civil.Date) (PlanParameters, error) {
	if err := ctx.Err(); err != nil {
		return PlanParameters{}, err
	}

	var params PlanParameters
	lookups := []struct {
		name   string
		values datedValues
		dest   *float64
	}{
		{"thresholds.plan_2", p.history.Thresholds.Plan2, &params.Plan2Threshold},
		{"thresholds.plan_5", p.history.Thresholds.Plan5, &params.Plan5Threshold},
		{"repayment_rate", p.history.RepaymentRate, &params.RepaymentRate},
		{"interest.plan_2.rate_below_threshold", p.history.Interest.Plan2.RateBelowThreshold, &params.InterestFloor},
		{"interest.plan_2.rate_above_threshold", p.history.Interest.Plan2.RateAboveThreshold, &params.InterestCeiling},
	}
	for _, l := range lookups {
		v, err := l.values.valueAt(date)
		if err != nil {
			return PlanParameters{}, fmt.Errorf("%s on %s: %w", l.name, date, err)
		}
		*l.dest = v
	}
	return params, nil
}

// ResolveParameters asks the provider for parameters and falls back to the
// built-in constants when it cannot answer
func ResolveParameters(ctx context.Context, provider ParameterProvider, date civil.Date, logger zerolog.Logger) PlanParameters {
	if provider == nil {
		logger.Warn().Msg("no parameter provider configured; using built-in parameters")
		return FallbackParameters()
	}
	params, err := provider.ParametersAt(ctx, date)
	if err != nil {
		logger.Warn().Err(err).Str("date", date.String()).Msg("parameter lookup failed; using built-in parameters")
		return FallbackParameters()
	}
	logger.Debug().
		Str("date", date.String()).
		Float64("plan2_threshold", params.Plan2Threshold).
		Float64("repayment_rate", params.RepaymentRate).
		Float64("interest_floor", params.InterestFloor).
		Float64("interest_ceiling", params.InterestCeiling).
		Msg("resolved policy parameters")
	return params
}

// ReferenceDate returns the configured parameter date, defaulting to 1 January of the base year
func (c *Config) ReferenceDate() (civil.Date, error) {
	if c.Parameters.ReferenceDate == "" {
		return civil.Date{Year: c.Assumptions.BaseYear, Month: 1, Day: 1}, nil
	}
	d, err := civil.ParseDate(c.Parameters.ReferenceDate)
	if err != nil {
		return civil.Date{}, ValidationError{Field: "parameters.reference_date", Message: "Invalid format. Use YYYY-MM-DD (e.g., 2026-01-01)"}
	}
	return d, nil
}

// BuildPolicy fills a configured policy's unset values from the resolved parameters
func BuildPolicy(pc PolicyConfig, params PlanParameters) (Policy, error) {
	p := Policy{
		Key:           pc.Key,
		Name:          pc.Name,
		Threshold:     valueOr(pc.Threshold, params.ThresholdFor(pc.Plan)),
		RepaymentRate: valueOr(pc.RepaymentRate, params.RepaymentRate),
		WriteoffYears: pc.WriteoffYears,
		IndexFrom:     pc.IndexFrom,
		Interest:      InterestRule{Kind: pc.Interest.Kind, UpperCutoff: pc.Interest.UpperCutoff},
	}
	if p.Name == "" {
		p.Name = p.Key
	}

	switch p.Interest.Kind {
	case InterestSliding:
		p.Interest.Floor = valueOr(pc.Interest.Floor, params.InterestFloor)
		p.Interest.Ceiling = valueOr(pc.Interest.Ceiling, params.InterestCeiling)
	default:
		rate := 0.0
		if pc.InterestFrom == "floor" {
			rate = params.InterestFloor
		}
		p.Interest.Rate = valueOr(pc.Interest.Rate, rate)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

// BuildPolicies resolves every configured policy, keyed by policy key
func BuildPolicies(c *Config, params PlanParameters) (map[string]Policy, error) {
	policies := make(map[string]Policy, len(c.Policies))
	for _, pc := range c.Policies {
		p, err := BuildPolicy(pc, params)
		if err != nil {
			return nil, err
		}
		policies[p.Key] = p
	}
	return policies, nil
}

// SelectPolicies returns the policies for keys in order
func SelectPolicies(all map[string]Policy, keys []string) ([]Policy, error) {
	selected := make([]Policy, 0, len(keys))
	for _, key := range keys {
		p, ok := all[key]
		if !ok {
			return nil, fmt.Errorf("unknown policy %q", key)
		}
		selected = append(selected, p)
	}
	return selected, nil
}
