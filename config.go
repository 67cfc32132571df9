package main

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed default-config.yaml
var defaultConfigYAML string

// LoanConfig describes the loan every simulated graduate starts with
type LoanConfig struct {
	Balance float64 `yaml:"balance" json:"balance"`
}

// SweepConfig defines the starting-salary grid and worker pool
type SweepConfig struct {
	SalaryMin  float64 `yaml:"salary_min" json:"salary_min"`
	SalaryMax  float64 `yaml:"salary_max" json:"salary_max"`
	SalaryStep float64 `yaml:"salary_step" json:"salary_step"`
	Workers    int     `yaml:"workers" json:"workers"` // 0 = one per CPU
}

// ProfileConfig is a named starting salary for console summaries
type ProfileConfig struct {
	Label  string  `yaml:"label" json:"label"`
	Salary float64 `yaml:"salary" json:"salary"`
}

// ComparisonConfig is a named set of policies compared against a baseline
type ComparisonConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Baseline string   `yaml:"baseline" json:"baseline"`
	Policies []string `yaml:"policies" json:"policies"`
}

// PolicyConfig is a policy as written in YAML. Threshold, repayment rate and
// interest rates left out are filled from the parameter provider for the named
// plan; an explicit zero is kept.
type PolicyConfig struct {
	Key           string         `yaml:"key" json:"key"`
	Name          string         `yaml:"name" json:"name"`
	Plan          string         `yaml:"plan" json:"plan"` // "plan_2" or "plan_5"
	Threshold     *float64       `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	RepaymentRate *float64       `yaml:"repayment_rate,omitempty" json:"repayment_rate,omitempty"`
	WriteoffYears int            `yaml:"writeoff_years" json:"writeoff_years"`
	IndexFrom     int            `yaml:"index_from" json:"index_from"`                           // First calendar year the threshold is uprated
	InterestFrom  string         `yaml:"interest_from,omitempty" json:"interest_from,omitempty"` // "floor" pins an unset flat rate to the provider's floor
	Interest      InterestConfig `yaml:"interest" json:"interest"`
}

// InterestConfig is an InterestRule whose rates may be left to the provider
type InterestConfig struct {
	Kind        InterestKind `yaml:"kind" json:"kind"`
	Rate        *float64     `yaml:"rate,omitempty" json:"rate,omitempty"`
	Floor       *float64     `yaml:"floor,omitempty" json:"floor,omitempty"`
	Ceiling     *float64     `yaml:"ceiling,omitempty" json:"ceiling,omitempty"`
	UpperCutoff float64      `yaml:"upper_cutoff,omitempty" json:"upper_cutoff,omitempty"`
}

// ParametersConfig locates the dated policy parameter history
type ParametersConfig struct {
	File          string `yaml:"file" json:"file"`                     // Empty = embedded defaults
	ReferenceDate string `yaml:"reference_date" json:"reference_date"` // YYYY-MM-DD
}

// PopulationConfig controls which microdata records are simulated
type PopulationConfig struct {
	Source  string   `yaml:"source" json:"source"`   // .csv file or sqlite database
	Plans   []string `yaml:"plans" json:"plans"`     // Loan plan labels kept
	Plan2   string   `yaml:"plan2" json:"plan2"`     // Policy key simulated for the plan 2 column
	Plan5   string   `yaml:"plan5" json:"plan5"`     // Policy key simulated for the plan 5 column
	Deciles int      `yaml:"deciles" json:"deciles"` // Number of income groups
}

// CacheConfig selects where lifetime summaries are memoised
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	RedisAddr  string `yaml:"redis_addr" json:"redis_addr"`   // Empty = in-process cache
	TTL        string `yaml:"ttl" json:"ttl"`                 // Redis expiry, e.g. "24h"; empty = none
	MaxEntries int    `yaml:"max_entries" json:"max_entries"` // In-process cache bound; 0 = default
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Config holds the complete configuration
type Config struct {
	Assumptions Assumptions        `yaml:"assumptions" json:"assumptions"`
	Loan        LoanConfig         `yaml:"loan" json:"loan"`
	Sweep       SweepConfig        `yaml:"sweep" json:"sweep"`
	Parameters  ParametersConfig   `yaml:"parameters" json:"parameters"`
	Policies    []PolicyConfig     `yaml:"policies" json:"policies"`
	Comparisons []ComparisonConfig `yaml:"comparisons" json:"comparisons"`
	Profiles    []ProfileConfig    `yaml:"profiles" json:"profiles"`
	Annual      []ProfileConfig    `yaml:"annual_profiles" json:"annual_profiles"`
	Population  PopulationConfig   `yaml:"population" json:"population"`
	Cache       CacheConfig        `yaml:"cache" json:"cache"`
	Logging     LoggingConfig      `yaml:"logging" json:"logging"`
}

// LoadConfig loads configuration from a YAML file layered over the embedded defaults
func LoadConfig(filename string) (*Config, error) {
	config, err := LoadDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal([]byte(preprocessPercentages(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return config, nil
}

// LoadDefaultConfig loads the default configuration from embedded default-config.yaml
// It handles percentage format (e.g., "4.5%" -> 0.045)
func LoadDefaultConfig() (*Config, error) {
	content := preprocessPercentages(defaultConfigYAML)

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	header := []byte(`# Student Loan Policy Comparison Configuration
#
#   Percentages: 0.045 = 4.5% (or write 4.5%)
#   Money: values are in GBP
#   Dates: YYYY-MM-DD
#
# Policies without a threshold take it from the parameter history for their plan.

`)
	return os.WriteFile(filename, append(header, data...), 0644)
}

var percentPattern = regexp.MustCompile(`(:\s*)(\d+\.?\d*)%`)

// preprocessPercentages converts percentage values like "5%" to decimal "0.05"
func preprocessPercentages(content string) string {
	return percentPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := percentPattern.FindStringSubmatch(match)
		if len(parts) >= 3 {
			num, err := strconv.ParseFloat(parts[2], 64)
			if err == nil {
				return parts[1] + strconv.FormatFloat(num/100.0, 'f', -1, 64)
			}
		}
		return match
	})
}

// FindPolicy returns the policy config with the given key
func (c *Config) FindPolicy(key string) *PolicyConfig {
	for i := range c.Policies {
		if c.Policies[i].Key == key {
			return &c.Policies[i]
		}
	}
	return nil
}

// FindComparison returns the named comparison
func (c *Config) FindComparison(name string) *ComparisonConfig {
	for i := range c.Comparisons {
		if c.Comparisons[i].Name == name {
			return &c.Comparisons[i]
		}
	}
	return nil
}

// SalaryGrid returns the configured sweep grid
func (c *Config) SalaryGrid() []float64 {
	return SalaryGrid(c.Sweep.SalaryMin, c.Sweep.SalaryMax, c.Sweep.SalaryStep)
}

// Validate reports every problem in the configuration that would make a run meaningless
func (c *Config) Validate() []error {
	var errs []error

	if c.Assumptions.BaseYear < 2000 || c.Assumptions.BaseYear > 2100 {
		errs = append(errs, ValidationError{Field: "assumptions.base_year",
			Message: fmt.Sprintf("Year must be between 2000 and 2100 (got %d)", c.Assumptions.BaseYear)})
	}
	if c.Assumptions.SalaryGrowth <= -1 {
		errs = append(errs, ValidationError{Field: "assumptions.salary_growth", Message: "Salary growth must be above -100%"})
	}
	for year, rate := range c.Assumptions.Rates.Forecasts {
		if rate < 0 {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("assumptions.rpi.forecasts.%d", year),
				Message: "Indexation rate cannot be negative"})
		}
	}
	if c.Assumptions.Rates.LongTerm < 0 {
		errs = append(errs, ValidationError{Field: "assumptions.rpi.long_term", Message: "Indexation rate cannot be negative"})
	}
	if c.Loan.Balance < 0 {
		errs = append(errs, ValidationError{Field: "loan.balance", Message: "Amount cannot be negative"})
	}
	if c.Sweep.SalaryStep <= 0 {
		errs = append(errs, ValidationError{Field: "sweep.salary_step", Message: "Step must be positive"})
	}
	if c.Sweep.SalaryMax < c.Sweep.SalaryMin {
		errs = append(errs, ValidationError{Field: "sweep.salary_max", Message: "Maximum salary is below minimum"})
	}

	seen := make(map[string]bool)
	for _, p := range c.Policies {
		if p.Key == "" {
			errs = append(errs, ValidationError{Field: "policies", Message: "Every policy needs a key"})
			continue
		}
		if seen[p.Key] {
			errs = append(errs, ValidationError{Field: "policies." + p.Key, Message: "Duplicate policy key"})
		}
		seen[p.Key] = true
		if p.Plan != "" && p.Plan != PlanTwo && p.Plan != PlanFive {
			errs = append(errs, ValidationError{Field: "policies." + p.Key + ".plan",
				Message: fmt.Sprintf("Unknown plan %q", p.Plan)})
		}
	}

	for _, cmp := range c.Comparisons {
		if !seen[cmp.Baseline] {
			errs = append(errs, ValidationError{Field: "comparisons." + cmp.Name + ".baseline",
				Message: fmt.Sprintf("Unknown policy %q", cmp.Baseline)})
		}
		for _, key := range cmp.Policies {
			if !seen[key] {
				errs = append(errs, ValidationError{Field: "comparisons." + cmp.Name,
					Message: fmt.Sprintf("Unknown policy %q", key)})
			}
		}
	}

	return errs
}
