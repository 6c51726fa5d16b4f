// Package tracking は実験の記録（パラメータ・メトリクス・アーティファクト）と
// モデルレジストリを sqlite 上に実装します。
//
// メタデータは modernc.org/sqlite（pure Go）のデータベースに、アーティファクトは
// <artifact_root>/<experiment_id>/<run_id>/artifacts 以下のファイルに保存されます。
//
// 使用例:
//
//	store, err := tracking.Open("mlruns.db", "mlruns")
//	exp, err := store.GetOrCreateExperiment(ctx, "student-score-regression-project")
//	run, err := store.StartRun(ctx, exp)
//	run.LogParam(ctx, "n_estimators", "100")
//	run.LogMetric(ctx, "R2", 0.87)
//	run.End(ctx, tracking.RunFinished)
package tracking

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS experiments(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	artifact_location TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs(
	id TEXT PRIMARY KEY,
	experiment_id INTEGER NOT NULL REFERENCES experiments(id),
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	artifact_uri TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_experiment ON runs(experiment_id, start_time);
CREATE TABLE IF NOT EXISTS params(
	run_id TEXT NOT NULL REFERENCES runs(id),
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY(run_id, key)
);
CREATE TABLE IF NOT EXISTS metrics(
	run_id TEXT NOT NULL REFERENCES runs(id),
	key TEXT NOT NULL,
	value REAL NOT NULL,
	step INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY(run_id, key)
);
CREATE TABLE IF NOT EXISTS registered_models(
	name TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS model_versions(
	name TEXT NOT NULL REFERENCES registered_models(name),
	version INTEGER NOT NULL,
	source TEXT NOT NULL,
	run_id TEXT NOT NULL REFERENCES runs(id),
	stage TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY(name, version)
);
`

// Store is a sqlite-backed tracking store and model registry.
type Store struct {
	db           *sql.DB
	artifactRoot string
	logger       log.Logger
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(l log.Logger) Option { return func(s *Store) { s.logger = log.OrNop(l) } }

// WithClock overrides the time source. Tests use it to get distinct start times.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Open はデータベースを開き、テーブルが無ければ作成する
//
// dbPath に ":memory:" を指定するとメモリ上のデータベースになります。
func Open(dbPath, artifactRoot string, opts ...Option) (*Store, error) {
	if dbPath == "" {
		return nil, errors.NewValidationError("tracking.db", "must not be empty", dbPath)
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for %s", dbPath)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open tracking store %s", dbPath)
	}
	// sqlite は書き込みが1本に直列化されるため接続も1本に絞る
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000", schemaSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to initialise tracking schema")
		}
	}

	s := &Store{
		db:           db,
		artifactRoot: artifactRoot,
		logger:       log.GetLoggerWithName("tracking"),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("Tracking store opened", log.SourceKey, dbPath, log.ArtifactKey, artifactRoot)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ArtifactRoot returns the directory under which run artifacts are written.
func (s *Store) ArtifactRoot() string { return s.artifactRoot }

// Experiment はランをまとめる名前付きの単位です。
type Experiment struct {
	ID               int64
	Name             string
	ArtifactLocation string
	CreatedAt        time.Time
}

// GetOrCreateExperiment は名前で実験を探し、無ければ作成する（set_experiment 相当）
func (s *Store) GetOrCreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError("experiment", "must not be empty", name)
	}

	exp, err := s.queryExperiment(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(err, "failed to look up experiment %q", name)
	}

	created := s.now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO experiments(name, artifact_location, created_at) VALUES(?, '', ?)",
		name, created.UnixMilli())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create experiment %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	location := filepath.Join(s.artifactRoot, formatID(id))
	if _, err := s.db.ExecContext(ctx,
		"UPDATE experiments SET artifact_location = ? WHERE id = ?", location, id); err != nil {
		return nil, errors.Wrapf(err, "failed to set artifact location of %q", name)
	}

	s.logger.Info("Experiment created", log.ExperimentKey, name, log.ArtifactKey, location)
	return &Experiment{ID: id, Name: name, ArtifactLocation: location, CreatedAt: time.UnixMilli(created.UnixMilli())}, nil
}

// GetExperimentByName returns the named experiment or a ModelUnavailableError.
func (s *Store) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	exp, err := s.queryExperiment(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewModelUnavailableError("experiment:"+name, "experiment does not exist")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up experiment %q", name)
	}
	return exp, nil
}

func (s *Store) queryExperiment(ctx context.Context, name string) (*Experiment, error) {
	var (
		exp     Experiment
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, artifact_location, created_at FROM experiments WHERE name = ?", name,
	).Scan(&exp.ID, &exp.Name, &exp.ArtifactLocation, &created)
	if err != nil {
		return nil, err
	}
	exp.CreatedAt = time.UnixMilli(created)
	return &exp, nil
}

// ListExperiments returns all experiments ordered by id.
func (s *Store) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, artifact_location, created_at FROM experiments ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list experiments")
	}
	defer rows.Close()

	var out []*Experiment
	for rows.Next() {
		var (
			exp     Experiment
			created int64
		)
		if err := rows.Scan(&exp.ID, &exp.Name, &exp.ArtifactLocation, &created); err != nil {
			return nil, errors.WithStack(err)
		}
		exp.CreatedAt = time.UnixMilli(created)
		out = append(out, &exp)
	}
	return out, errors.WithStack(rows.Err())
}
