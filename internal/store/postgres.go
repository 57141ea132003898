package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables PostgresStore uses.
const Schema = `
CREATE TABLE IF NOT EXISTS pingmesh_runs (
    run_id      TEXT PRIMARY KEY,
    scenario    TEXT,
    output_dir  TEXT,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    duration_ns BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS pingmesh_pair_stats (
    run_id        TEXT NOT NULL REFERENCES pingmesh_runs(run_id) ON DELETE CASCADE,
    from_node     INTEGER NOT NULL,
    to_node       INTEGER NOT NULL,
    sent          INTEGER NOT NULL,
    arrived       INTEGER NOT NULL,
    mean_there_ns DOUBLE PRECISION NOT NULL,
    mean_back_ns  DOUBLE PRECISION NOT NULL,
    min_rtt_ns    BIGINT NOT NULL,
    mean_rtt_ns   DOUBLE PRECISION NOT NULL,
    max_rtt_ns    BIGINT NOT NULL,
    std_rtt_ns    DOUBLE PRECISION NOT NULL,
    arrival_ratio DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, from_node, to_node)
);
CREATE TABLE IF NOT EXISTS pingmesh_link_stats (
    run_id      TEXT NOT NULL REFERENCES pingmesh_runs(run_id) ON DELETE CASCADE,
    from_node   INTEGER NOT NULL,
    to_node     INTEGER NOT NULL,
    busy_ns     BIGINT NOT NULL,
    utilization DOUBLE PRECISION NOT NULL,
    dropped     BIGINT NOT NULL,
    PRIMARY KEY (run_id, from_node, to_node)
);
`

var (
	pairColumns = []string{"run_id", "from_node", "to_node", "sent", "arrived", "mean_there_ns", "mean_back_ns",
		"min_rtt_ns", "mean_rtt_ns", "max_rtt_ns", "std_rtt_ns", "arrival_ratio"}
	linkColumns = []string{"run_id", "from_node", "to_node", "busy_ns", "utilization", "dropped"}
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL using the supplied connection string.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates missing tables.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases database resources.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// SaveRun replaces any previous copy of the run in one transaction.
func (p *PostgresStore) SaveRun(ctx context.Context, run RunSummary) (err error) {
	if strings.TrimSpace(run.RunID) == "" {
		return errors.New("run_id required")
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save run %q: %w", run.RunID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM pingmesh_runs WHERE run_id = $1`, run.RunID); err != nil {
		return fmt.Errorf("clear run %q: %w", run.RunID, err)
	}
	const insert = `
INSERT INTO pingmesh_runs (run_id, scenario, output_dir, started_at, finished_at, duration_ns)
VALUES ($1,$2,$3,$4,$5,$6);
`
	if _, err = tx.Exec(ctx, insert, run.RunID, nullString(run.Scenario), nullString(run.OutputDir),
		run.StartedAt, run.FinishedAt, run.DurationNs); err != nil {
		return fmt.Errorf("insert run %q: %w", run.RunID, err)
	}

	if len(run.Pairs) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"pingmesh_pair_stats"}, pairColumns,
			pgx.CopyFromSlice(len(run.Pairs), func(i int) ([]any, error) {
				s := run.Pairs[i]
				return []any{run.RunID, s.From, s.To, s.Sent, s.Arrived, s.MeanThere, s.MeanBack,
					s.MinRTT, s.MeanRTT, s.MaxRTT, s.StdRTT, s.ArrivalRate}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy pair stats for %q: %w", run.RunID, err)
		}
	}
	if len(run.Links) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"pingmesh_link_stats"}, linkColumns,
			pgx.CopyFromSlice(len(run.Links), func(i int) ([]any, error) {
				l := run.Links[i]
				return []any{run.RunID, l.From, l.To, l.BusyNs, l.Utilization, l.Dropped}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy link stats for %q: %w", run.RunID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %q: %w", run.RunID, err)
	}
	return nil
}

const runColumns = `run_id, scenario, output_dir, started_at, finished_at, duration_ns`

func scanRun(row pgx.Row) (RunSummary, error) {
	var run RunSummary
	var scenario, outputDir sql.NullString
	if err := row.Scan(&run.RunID, &scenario, &outputDir, &run.StartedAt, &run.FinishedAt, &run.DurationNs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RunSummary{}, ErrRunNotFound
		}
		return RunSummary{}, err
	}
	run.Scenario = scenario.String
	run.OutputDir = outputDir.String
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return run, nil
}

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (RunSummary, string, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pingmesh_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		return RunSummary{}, "", fmt.Errorf("get run %q: %w", runID, err)
	}
	if err := p.loadDetails(ctx, &run); err != nil {
		return RunSummary{}, "", err
	}
	return run, computeETag(run), nil
}

func (p *PostgresStore) LatestRun(ctx context.Context) (RunSummary, string, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pingmesh_runs ORDER BY finished_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		return RunSummary{}, "", fmt.Errorf("latest run: %w", err)
	}
	if err := p.loadDetails(ctx, &run); err != nil {
		return RunSummary{}, "", err
	}
	return run, computeETag(run), nil
}

func (p *PostgresStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `SELECT `+runColumns+` FROM pingmesh_runs ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (p *PostgresStore) loadDetails(ctx context.Context, run *RunSummary) error {
	const pairQuery = `
SELECT from_node, to_node, sent, arrived, mean_there_ns, mean_back_ns,
       min_rtt_ns, mean_rtt_ns, max_rtt_ns, std_rtt_ns, arrival_ratio
  FROM pingmesh_pair_stats
 WHERE run_id = $1
 ORDER BY from_node, to_node;
`
	rows, err := p.pool.Query(ctx, pairQuery, run.RunID)
	if err != nil {
		return fmt.Errorf("load pair stats for %q: %w", run.RunID, err)
	}
	run.Pairs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (PairStats, error) {
		var s PairStats
		err := row.Scan(&s.From, &s.To, &s.Sent, &s.Arrived, &s.MeanThere, &s.MeanBack,
			&s.MinRTT, &s.MeanRTT, &s.MaxRTT, &s.StdRTT, &s.ArrivalRate)
		return s, err
	})
	if err != nil {
		return fmt.Errorf("scan pair stats for %q: %w", run.RunID, err)
	}

	const linkQuery = `
SELECT from_node, to_node, busy_ns, utilization, dropped
  FROM pingmesh_link_stats
 WHERE run_id = $1
 ORDER BY from_node, to_node;
`
	rows, err = p.pool.Query(ctx, linkQuery, run.RunID)
	if err != nil {
		return fmt.Errorf("load link stats for %q: %w", run.RunID, err)
	}
	run.Links, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (LinkStats, error) {
		var l LinkStats
		err := row.Scan(&l.From, &l.To, &l.BusyNs, &l.Utilization, &l.Dropped)
		return l, err
	})
	if err != nil {
		return fmt.Errorf("scan link stats for %q: %w", run.RunID, err)
	}
	return nil
}

func nullString(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

// Ping checks that the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
