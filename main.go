package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
)

func main() {
	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Student Loan Repayment Policy Simulator

Simulates lifetime repayments of an English student loan under competing
repayment policies (thresholds, interest rules, write-off terms) and compares
who pays more or less under each.

MODES:
  PROFILES (default)
    Lifetime outcome for each typical graduate profile under every policy
    of the selected comparison.

  SALARY SWEEP (-sweep)
    Simulates every starting salary on the configured grid (default
    £20,000 to £120,000 in £100 steps) under each policy. Add -savings to
    print how much each policy saves against the comparison's baseline.

  PAYOFF SALARY (-payoff)
    Searches the sweep range for the lowest starting salary at which each
    policy clears the loan before write-off.

  YEARLY TRACE (-trace salary, -annual)
    Year-by-year income, threshold, interest and balance for one salary,
    or for each configured annual profile.

  DECILES (-deciles)
    Weighted average repayment by household income decile from a
    population (.csv or SQLite .db) given by -population, -db or
    population.source. Use -import-csv with -db to load a CSV into
    SQLite first.

  WEB (-web)
    JSON API on -addr.

Usage:
  %s [options]

Options:
`, os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  %s                                Typical graduate profiles
  %s -sweep -savings                Current system vs proposed fixes
  %s -sweep -comparison plans       Plan 2 vs Plan 5
  %s -trace 45000 -policy current   Yearly trace at £45,000
  %s -deciles -population frs.csv  Decile comparison of Plan 2 and Plan 5
  %s -import-csv frs.csv -db frs.db Load microdata into SQLite
  %s -web -addr :8080               Web server on a specific port

Configuration:
  Edit config.yaml to change assumptions, policies and comparisons.
  Run with -init to write the defaults to -config.
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	}

	// Command line flags
	configFile := flag.String("config", "config.yaml", "Path to YAML configuration file")
	initConfig := flag.Bool("init", false, "Write the default configuration to -config and exit")
	showProfiles := flag.Bool("profiles", false, "Show typical graduate profiles (default when no mode is given)")
	runSweep := flag.Bool("sweep", false, "Run the salary sweep")
	showSavings := flag.Bool("savings", false, "With -sweep, show savings against the baseline policy")
	findPayoff := flag.Bool("payoff", false, "Find the lowest salary at which each policy repays in full")
	comparison := flag.String("comparison", "fixes", "Named comparison from config (e.g. fixes, plans)")
	traceSalary := flag.Float64("trace", 0, "Show a yearly trace for this starting salary")
	showAnnual := flag.Bool("annual", false, "Show yearly traces for every configured annual profile")
	policyKeys := flag.String("policy", "", "Comma-separated policy keys for traces (default: the comparison's policies)")
	horizon := flag.Int("horizon", DefaultTraceHorizon, "Years shown in yearly traces")
	runDeciles := flag.Bool("deciles", false, "Compare plan 2 and plan 5 by income decile over a population")
	populationFile := flag.String("population", "", "Population file (.csv or .db); overrides population.source and -db")
	importCSV := flag.String("import-csv", "", "Import a population CSV into the SQLite database given by -db")
	dbPath := flag.String("db", "", "SQLite population database")
	webMode := flag.Bool("web", false, "Start the JSON API server")
	webAddr := flag.String("addr", "localhost:8080", "Web server address (for -web mode, use :0 for auto port)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides config")
	flag.Parse()

	if *initConfig {
		config, err := LoadDefaultConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading default config: %v\n", err)
			os.Exit(1)
		}
		if err := SaveConfig(config, *configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration saved to %s\n", *configFile)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	config, err := LoadConfig(*configFile)
	configMissing := os.IsNotExist(err)
	if err != nil && !configMissing {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	level := config.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger := NewLogger(os.Stderr, level)
	if configMissing {
		logger.Info().Str("file", *configFile).Msg("config file not found; using built-in defaults")
	}

	if errs := config.Validate(); len(errs) > 0 {
		fmt.Fprintln(os.Stderr, "Configuration errors:")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		os.Exit(1)
	}

	// Population import needs no simulation setup
	if *importCSV != "" {
		if err := runImport(ctx, *importCSV, *dbPath, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Import error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := newSession(ctx, config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *webMode {
		server := NewWebServer(config, app.params, app.policies, app.sim, *webAddr, logger)
		if err := server.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Web server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cmp := config.FindComparison(*comparison)
	if cmp == nil {
		fmt.Fprintf(os.Stderr, "Error: unknown comparison %q\n", *comparison)
		os.Exit(1)
	}
	compared, err := SelectPolicies(app.policies, cmp.Policies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	traced := compared
	if *policyKeys != "" {
		traced, err = SelectPolicies(app.policies, splitKeys(*policyKeys))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *runDeciles {
		source := *populationFile
		if source == "" {
			source = *dbPath
		}
		if source == "" {
			source = config.Population.Source
		}
		if source == "" {
			fmt.Fprintln(os.Stderr, "Error: -deciles needs -population, -db or population.source in config")
			os.Exit(1)
		}
		if err := app.runDeciles(ctx, source); err != nil {
			fmt.Fprintf(os.Stderr, "Decile error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	PrintHeader(os.Stdout, config, app.params, compared)

	// Profiles are the default when no other mode is selected
	anyMode := *runSweep || *findPayoff || *traceSalary > 0 || *showAnnual
	if *showProfiles || !anyMode {
		PrintProfiles(ctx, os.Stdout, app.sim, config.Profiles, config.Loan.Balance, compared)
	}

	if *runSweep {
		report, err := NewSweepReport(ctx, app.sim, config.SalaryGrid(), config.Loan.Balance, compared, cmp.Baseline, config.Sweep.Workers)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sweep error: %v\n", err)
			os.Exit(1)
		}
		PrintSweepSummary(os.Stdout, report, *showSavings)
	}

	if *findPayoff {
		results := FindPayoffSalaries(config.Loan.Balance, compared, config.Assumptions, config.Sweep.SalaryMin, config.Sweep.SalaryMax)
		PrintPayoffSalaries(os.Stdout, results, compared)
	}

	if *traceSalary > 0 {
		label := fmt.Sprintf("%s starting salary", FormatMoneyFull(*traceSalary))
		for _, p := range traced {
			PrintTrace(os.Stdout, label, p, app.sim.Yearly(*traceSalary, config.Loan.Balance, p, *horizon))
		}
	}

	if *showAnnual {
		for _, prof := range config.Annual {
			label := fmt.Sprintf("%s (%s)", prof.Label, FormatMoneyFull(prof.Salary))
			for _, p := range traced {
				PrintTrace(os.Stdout, label, p, app.sim.Yearly(prof.Salary, config.Loan.Balance, p, *horizon))
			}
		}
	}
}

// session holds everything resolved once per run
type session struct {
	config   *Config
	params   PlanParameters
	policies map[string]Policy
	sim      *Simulator
	logger   zerolog.Logger
}

func newSession(ctx context.Context, config *Config, logger zerolog.Logger) (*session, error) {
	date, err := config.ReferenceDate()
	if err != nil {
		return nil, err
	}

	var provider ParameterProvider
	yamlProvider, err := LoadParameterProvider(config.Parameters.File)
	if err != nil {
		logger.Warn().Err(err).Str("file", config.Parameters.File).Msg("parameter history unavailable")
	} else {
		provider = yamlProvider
	}
	params := ResolveParameters(ctx, provider, date, logger)

	policies, err := BuildPolicies(config, params)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	cache, err := NewSummaryCache(ctx, config.Cache, logger)
	if err != nil {
		// Caching only saves time; run without it
		logger.Warn().Err(err).Msg("summary cache disabled")
		cache = nil
	}

	return &session{
		config:   config,
		params:   params,
		policies: policies,
		sim:      NewSimulator(config.Assumptions, cache, logger),
		logger:   logger,
	}, nil
}

// runDeciles compares the plan 2 and plan 5 policies across the population's income deciles
func (s *session) runDeciles(ctx context.Context, source string) error {
	pop := s.config.Population
	plan2, ok := s.policies[pop.Plan2]
	if !ok {
		return fmt.Errorf("population.plan2: unknown policy %q", pop.Plan2)
	}
	plan5, ok := s.policies[pop.Plan5]
	if !ok {
		return fmt.Errorf("population.plan5: unknown policy %q", pop.Plan5)
	}

	src, closeSource, err := OpenPopulationSource(source)
	if err != nil {
		return err
	}
	defer closeSource()

	people, err := src.LoadPopulation(ctx, PopulationFilter{Plans: pop.Plans, PositiveIncome: true})
	if err != nil {
		return fmt.Errorf("failed to load population: %w", err)
	}
	s.logger.Info().Str("source", source).Int("individuals", len(people)).Msg("loaded population")

	rows, err := RunDecileSweep(ctx, s.sim, people, s.config.Loan.Balance, []Policy{plan2, plan5}, pop.Deciles, s.config.Sweep.Workers)
	if err != nil {
		return err
	}
	PrintDecileTable(os.Stdout, rows, plan2, plan5)
	return nil
}

// runImport loads a population CSV into the SQLite store
func runImport(ctx context.Context, csvPath, dbPath string, logger zerolog.Logger) error {
	if dbPath == "" {
		return fmt.Errorf("-db is required with -import-csv")
	}
	people, err := CSVPopulationSource{Path: csvPath}.LoadPopulation(ctx, PopulationFilter{})
	if err != nil {
		return err
	}

	store, err := NewPopulationStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Insert(ctx, people); err != nil {
		return err
	}
	n, err := store.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info().Str("db", dbPath).Int("imported", len(people)).Int("total", n).Msg("population imported")
	return nil
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
