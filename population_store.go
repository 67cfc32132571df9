package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// PopulationStore keeps microdata in SQLite so large surveys are filtered in SQL
// rather than loaded whole. Use ":memory:" for an in-memory database.
type PopulationStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewPopulationStore opens (and migrates) the database at dbPath
func NewPopulationStore(dbPath string) (*PopulationStore, error) {
	dsn := dbPath + "?_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	store := &PopulationStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *PopulationStore) Close() error {
	return s.db.Close()
}

func (s *PopulationStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS individuals (
		id TEXT PRIMARY KEY,
		income REAL NOT NULL,
		weight REAL NOT NULL,
		decile INTEGER NOT NULL,
		plan TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_individuals_plan_income
		ON individuals(plan, income);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert upserts records in a single transaction
func (s *PopulationStore) Insert(ctx context.Context, people []Individual) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO individuals (id, income, weight, decile, plan)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			income = excluded.income,
			weight = excluded.weight,
			decile = excluded.decile,
			plan = excluded.plan
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ind := range people {
		if _, err := stmt.ExecContext(ctx, ind.ID, ind.Income, ind.Weight, ind.Decile, strings.ToUpper(ind.Plan)); err != nil {
			return fmt.Errorf("failed to insert individual %s: %w", ind.ID, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored records
func (s *PopulationStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM individuals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count individuals: %w", err)
	}
	return n, nil
}

// LoadPopulation returns the records matching filter, ordered by decile then id
func (s *PopulationStore) LoadPopulation(ctx context.Context, filter PopulationFilter) ([]Individual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, income, weight, decile, plan FROM individuals`
	var (
		where []string
		args  []any
	)
	if filter.PositiveIncome {
		where = append(where, "income > 0")
	}
	if len(filter.Plans) > 0 {
		placeholders := make([]string, len(filter.Plans))
		for i, plan := range filter.Plans {
			placeholders[i] = "?"
			args = append(args, strings.ToUpper(plan))
		}
		where = append(where, "plan IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY decile, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query individuals: %w", err)
	}
	defer rows.Close()

	var people []Individual
	for rows.Next() {
		var ind Individual
		if err := rows.Scan(&ind.ID, &ind.Income, &ind.Weight, &ind.Decile, &ind.Plan); err != nil {
			return nil, fmt.Errorf("failed to scan individual: %w", err)
		}
		people = append(people, ind)
	}
	return people, rows.Err()
}
