package main

import (
	"fmt"
	"strings"
)

// InterestKind selects how a policy charges interest
type InterestKind int

const (
	InterestFlat    InterestKind = iota // Same rate regardless of income
	InterestSliding                     // Linear between floor and ceiling over an income band
)

func (k InterestKind) String() string {
	switch k {
	case InterestFlat:
		return "flat"
	case InterestSliding:
		return "sliding"
	default:
		return "unknown"
	}
}

// ParseInterestKind converts a config value into an InterestKind
func ParseInterestKind(s string) (InterestKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat", "":
		return InterestFlat, nil
	case "sliding":
		return InterestSliding, nil
	default:
		return InterestFlat, fmt.Errorf("unknown interest kind %q", s)
	}
}

// MarshalText lets the kind round-trip through YAML and JSON as a word
func (k InterestKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *InterestKind) UnmarshalText(text []byte) error {
	parsed, err := ParseInterestKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// InterestRule is the per-policy interest strategy.
// Flat uses Rate; Sliding uses Floor, Ceiling and UpperCutoff.
type InterestRule struct {
	Kind        InterestKind `yaml:"kind" json:"kind"`
	Rate        float64      `yaml:"rate,omitempty" json:"rate,omitempty"`
	Floor       float64      `yaml:"floor,omitempty" json:"floor,omitempty"`
	Ceiling     float64      `yaml:"ceiling,omitempty" json:"ceiling,omitempty"`
	UpperCutoff float64      `yaml:"upper_cutoff,omitempty" json:"upper_cutoff,omitempty"`
}

// FlatInterest returns a rule charging rate on every balance
func FlatInterest(rate float64) InterestRule {
	return InterestRule{Kind: InterestFlat, Rate: rate}
}

// SlidingInterest returns a rule moving from floor at the threshold to ceiling at upperCutoff
func SlidingInterest(floor, ceiling, upperCutoff float64) InterestRule {
	return InterestRule{Kind: InterestSliding, Floor: floor, Ceiling: ceiling, UpperCutoff: upperCutoff}
}

// Describe returns a short label for console output
func (r InterestRule) Describe() string {
	if r.Kind == InterestSliding {
		return fmt.Sprintf("sliding %.1f%%-%.1f%% up to £%.0f", r.Floor*100, r.Ceiling*100, r.UpperCutoff)
	}
	return fmt.Sprintf("flat %.1f%%", r.Rate*100)
}

// MaxWriteoffYears bounds the write-off term, and with it the length of a run
const MaxWriteoffYears = 100

// Policy is one repayment regime being compared.
// Values are copied, never mutated during a run.
type Policy struct {
	Key           string       `yaml:"key" json:"key"`
	Name          string       `yaml:"name" json:"name"`
	Threshold     float64      `yaml:"threshold" json:"threshold"`
	RepaymentRate float64      `yaml:"repayment_rate" json:"repayment_rate"`
	WriteoffYears int          `yaml:"writeoff_years" json:"writeoff_years"`
	Interest      InterestRule `yaml:"interest" json:"interest"`
	IndexFrom     int          `yaml:"index_from" json:"index_from"` // First calendar year the threshold is uprated
}

// Validate checks the bundle can be simulated without degenerate arithmetic
func (p Policy) Validate() error {
	field := func(name string) string {
		if p.Key == "" {
			return name
		}
		return "policies." + p.Key + "." + name
	}
	if p.Threshold < 0 {
		return ValidationError{Field: field("threshold"), Message: fmt.Sprintf("Threshold cannot be negative (got %.0f)", p.Threshold)}
	}
	if p.RepaymentRate < 0 || p.RepaymentRate > 1 {
		return ValidationError{Field: field("repayment_rate"), Message: fmt.Sprintf("Repayment rate must be between 0%% and 100%% (got %.1f%%)", p.RepaymentRate*100)}
	}
	if p.WriteoffYears < 0 || p.WriteoffYears > MaxWriteoffYears {
		return ValidationError{Field: field("writeoff_years"),
			Message: fmt.Sprintf("Write-off term must be between 0 and %d years (got %d)", MaxWriteoffYears, p.WriteoffYears)}
	}
	switch p.Interest.Kind {
	case InterestSliding:
		if p.Interest.Floor < 0 {
			return ValidationError{Field: field("interest.floor"), Message: "Interest rate cannot be negative"}
		}
		if p.Interest.Ceiling < 0 {
			return ValidationError{Field: field("interest.ceiling"), Message: "Interest rate cannot be negative"}
		}
		if p.Interest.Floor > p.Interest.Ceiling {
			return ValidationError{Field: field("interest.ceiling"),
				Message: fmt.Sprintf("Ceiling %.2f%% is below floor %.2f%%", p.Interest.Ceiling*100, p.Interest.Floor*100)}
		}
	default:
		if p.Interest.Rate < 0 {
			return ValidationError{Field: field("interest.rate"), Message: "Interest rate cannot be negative"}
		}
	}
	if p.Interest.Kind == InterestSliding && p.Interest.UpperCutoff <= p.Threshold {
		return ValidationError{Field: field("interest.upper_cutoff"),
			Message: fmt.Sprintf("Upper cutoff £%.0f must exceed threshold £%.0f", p.Interest.UpperCutoff, p.Threshold)}
	}
	return nil
}

// LifetimeSummary is the outcome of one simulated repayment lifetime
type LifetimeSummary struct {
	TotalRepaid   float64 `json:"total_repaid"`
	TotalInterest float64 `json:"total_interest"`
	PaidOff       bool    `json:"paid_off"`
	YearsRepaying int     `json:"years_repaying"` // Last repaying year if paid off, otherwise the full term
	EndingBalance float64 `json:"ending_balance"`
	WrittenOff    float64 `json:"written_off"`
}

// Status describes how the loan ended, for console output
func (s LifetimeSummary) Status() string {
	if s.PaidOff {
		return "(paid off)"
	}
	return fmt.Sprintf("(%s written off)", FormatMoneyFull(s.WrittenOff))
}

// YearTrace is one year of a yearly repayment profile
type YearTrace struct {
	Year         int     `json:"year"` // Years from graduation, starting at 1
	CalendarYear int     `json:"calendar_year"`
	Income       float64 `json:"income"`
	Threshold    float64 `json:"threshold"`
	InterestRate float64 `json:"interest_rate"`
	Repayment    float64 `json:"annual_repayment"`
	Interest     float64 `json:"interest"`
	Balance      float64 `json:"balance"`
}

// Validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
