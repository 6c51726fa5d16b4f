package tracking

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

// Stage はモデルバージョンのライフサイクル段階です。
type Stage string

const (
	StageNone       Stage = "None"
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// ParseStage parses a stage name case-insensitively.
func ParseStage(s string) (Stage, error) {
	for _, st := range []Stage{StageNone, StageStaging, StageProduction, StageArchived} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", errors.NewValidationError("stage", "must be one of None, Staging, Production, Archived", s)
}

// ModelVersion は登録済みモデルの1バージョンです。
type ModelVersion struct {
	Name      string
	Version   int
	Source    string // runs:/<run_id>/<artifact_path>
	RunID     string
	Stage     Stage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// URI returns "models:/<name>/<version>".
func (v *ModelVersion) URI() string { return ModelURI(v.Name, formatID(int64(v.Version))) }

// RegisterModel はラン URI を name の次のバージョンとして登録する。新しいバージョンは None 段階になる
func (s *Store) RegisterModel(ctx context.Context, name, source string) (*ModelVersion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationError("model.name", "must not be empty", name)
	}
	ref, err := ParseURI(source)
	if err != nil {
		return nil, err
	}
	if ref.Scheme != SchemeRuns {
		return nil, errors.NewValidationError("source", "must be a runs:/ URI", source)
	}
	if _, err := s.GetRun(ctx, ref.RunID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO registered_models(name, created_at, updated_at) VALUES(?,?,?)
		ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`, name, now, now); err != nil {
		return nil, errors.Wrapf(err, "failed to register model %q", name)
	}
	var version int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE name = ?", name).Scan(&version); err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_versions(name, version, source, run_id, stage, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?)`, name, version, source, ref.RunID, string(StageNone), now, now); err != nil {
		return nil, errors.Wrapf(err, "failed to create version of %q", name)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.WithStack(err)
	}

	s.logger.Info("Model registered",
		log.OperationKey, log.OperationRegister,
		log.ModelNameKey, name,
		log.ModelVersionKey, version,
		log.RunIDKey, ref.RunID,
	)
	return &ModelVersion{
		Name: name, Version: version, Source: source, RunID: ref.RunID, Stage: StageNone,
		CreatedAt: time.UnixMilli(now), UpdatedAt: time.UnixMilli(now),
	}, nil
}

// TransitionModelVersionStage はバージョンの段階を変更する
// archiveExisting が true の場合、同じ段階にある他のバージョンは Archived になる
func (s *Store) TransitionModelVersionStage(ctx context.Context, name string, version int, stage Stage, archiveExisting bool) (*ModelVersion, error) {
	if _, err := ParseStage(string(stage)); err != nil {
		return nil, err
	}
	if _, err := s.GetModelVersion(ctx, name, version); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	if archiveExisting && stage != StageNone && stage != StageArchived {
		if _, err := tx.ExecContext(ctx,
			"UPDATE model_versions SET stage = ?, updated_at = ? WHERE name = ? AND stage = ? AND version <> ?",
			string(StageArchived), now, name, string(stage), version); err != nil {
			return nil, errors.Wrap(err, "failed to archive existing versions")
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE model_versions SET stage = ?, updated_at = ? WHERE name = ? AND version = ?",
		string(stage), now, name, version); err != nil {
		return nil, errors.Wrapf(err, "failed to transition %s/%d", name, version)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.WithStack(err)
	}

	s.logger.Info("Model version transitioned",
		log.ModelNameKey, name, log.ModelVersionKey, version, log.StageKey, string(stage))
	return s.GetModelVersion(ctx, name, version)
}

// GetModelVersion returns one version or a ModelUnavailableError.
func (s *Store) GetModelVersion(ctx context.Context, name string, version int) (*ModelVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, version, source, run_id, stage, created_at, updated_at
		FROM model_versions WHERE name = ? AND version = ?`, name, version)
	mv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewModelUnavailableError(ModelURI(name, formatID(int64(version))), "model version does not exist")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s/%d", name, version)
	}
	return mv, nil
}

// LatestVersion は stage にある最新バージョンを返す。stage が空ならすべての段階から探す
func (s *Store) LatestVersion(ctx context.Context, name string, stage Stage) (*ModelVersion, error) {
	query := `SELECT name, version, source, run_id, stage, created_at, updated_at
		FROM model_versions WHERE name = ?`
	args := []interface{}{name}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, string(stage))
	}
	query += " ORDER BY version DESC LIMIT 1"

	mv, err := scanVersion(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		label := string(stage)
		if label == "" {
			label = "latest"
		}
		return nil, errors.NewModelUnavailableError(ModelURI(name, label), "no model version in stage "+label)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read latest version of %s", name)
	}
	return mv, nil
}

// ListModelVersions returns every version of name, newest first.
func (s *Store) ListModelVersions(ctx context.Context, name string) ([]*ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, source, run_id, stage, created_at, updated_at
		FROM model_versions WHERE name = ? ORDER BY version DESC`, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list versions of %s", name)
	}
	defer rows.Close()
	var out []*ModelVersion
	for rows.Next() {
		mv, err := scanVersion(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, mv)
	}
	return out, errors.WithStack(rows.Err())
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row scanner) (*ModelVersion, error) {
	var (
		mv               ModelVersion
		stage            string
		created, updated int64
	)
	if err := row.Scan(&mv.Name, &mv.Version, &mv.Source, &mv.RunID, &stage, &created, &updated); err != nil {
		return nil, err
	}
	mv.Stage = Stage(stage)
	mv.CreatedAt = time.UnixMilli(created)
	mv.UpdatedAt = time.UnixMilli(updated)
	return &mv, nil
}
