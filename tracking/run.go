package tracking

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

// RunStatus はランの状態です。
type RunStatus string

const (
	RunRunning  RunStatus = "RUNNING"
	RunFinished RunStatus = "FINISHED"
	RunFailed   RunStatus = "FAILED"
)

// ModelFileName is the file written by Run.LogModel inside the model artifact directory.
const ModelFileName = "model.gob"

// RunInfo はランのメタデータとログ済みの値のスナップショットです。
type RunInfo struct {
	ID           string
	ExperimentID int64
	Name         string
	Status       RunStatus
	StartTime    time.Time
	EndTime      time.Time // 実行中はゼロ値
	ArtifactURI  string
	Params       map[string]string
	Metrics      map[string]float64
}

// Run is an active run handle returned by StartRun.
type Run struct {
	store  *Store
	info   RunInfo
	logger log.Logger
}

// ID returns the run id.
func (r *Run) ID() string { return r.info.ID }

// ArtifactDir returns the local directory holding the run's artifacts.
func (r *Run) ArtifactDir() string { return r.info.ArtifactURI }

// URI returns "runs:/<id>/<artifactPath>".
func (r *Run) URI(artifactPath string) string { return RunURI(r.info.ID, artifactPath) }

// StartRun は実験の下に新しいランを作成する。名前は省略時に ID の先頭8文字になる
func (s *Store) StartRun(ctx context.Context, exp *Experiment, name ...string) (*Run, error) {
	if exp == nil {
		return nil, errors.NewValueError("StartRun", "experiment is required")
	}
	id := uuid.New().String()
	runName := id[:8]
	if len(name) > 0 && name[0] != "" {
		runName = name[0]
	}
	start := time.UnixMilli(s.now().UnixMilli())
	artifacts := filepath.Join(exp.ArtifactLocation, id, "artifacts")

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, experiment_id, name, status, start_time, artifact_uri) VALUES(?,?,?,?,?,?)`,
		id, exp.ID, runName, string(RunRunning), start.UnixMilli(), artifacts); err != nil {
		return nil, errors.Wrapf(err, "failed to start run in experiment %q", exp.Name)
	}

	logger := s.logger.With(log.RunIDKey, id, log.ExperimentKey, exp.Name)
	logger.Info("Run started")
	return &Run{
		store: s,
		info: RunInfo{
			ID:           id,
			ExperimentID: exp.ID,
			Name:         runName,
			Status:       RunRunning,
			StartTime:    start,
			ArtifactURI:  artifacts,
		},
		logger: logger,
	}, nil
}

func (r *Run) requireActive(op string) error {
	if r.info.Status != RunRunning {
		return errors.NewValueError(op, "run "+r.info.ID+" is already "+string(r.info.Status))
	}
	return nil
}

// LogParam はパラメータを記録する。同じキーに異なる値を記録しようとするとエラーになる
func (r *Run) LogParam(ctx context.Context, key, value string) error {
	if err := r.requireActive("LogParam"); err != nil {
		return err
	}
	var existing string
	err := r.store.db.QueryRowContext(ctx,
		"SELECT value FROM params WHERE run_id = ? AND key = ?", r.info.ID, key).Scan(&existing)
	switch {
	case err == nil:
		if existing != value {
			return errors.NewValueError("LogParam",
				"param "+key+" already logged with value "+existing)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return errors.Wrapf(err, "failed to read param %s", key)
	}
	if _, err := r.store.db.ExecContext(ctx,
		"INSERT INTO params(run_id, key, value) VALUES(?,?,?)", r.info.ID, key, value); err != nil {
		return errors.Wrapf(err, "failed to log param %s", key)
	}
	return nil
}

// LogParams logs every entry of params.
func (r *Run) LogParams(ctx context.Context, params map[string]string) error {
	for k, v := range params {
		if err := r.LogParam(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// LogMetric はメトリクスを記録する。同じキーは最新の値で上書きされる
func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	if err := r.requireActive("LogMetric"); err != nil {
		return err
	}
	if err := errors.CheckScalar("LogMetric", value); err != nil {
		return err
	}
	if _, err := r.store.db.ExecContext(ctx, `
		INSERT INTO metrics(run_id, key, value, step, timestamp) VALUES(?,?,?,0,?)
		ON CONFLICT(run_id, key) DO UPDATE SET value = excluded.value, step = metrics.step + 1,
			timestamp = excluded.timestamp`,
		r.info.ID, key, value, r.store.now().UnixMilli()); err != nil {
		return errors.Wrapf(err, "failed to log metric %s", key)
	}
	return nil
}

// LogMetrics logs every entry of metrics.
func (r *Run) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	for k, v := range metrics {
		if err := r.LogMetric(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// WriteArtifact はアーティファクトディレクトリ内の relPath に write の出力を書き込む
func (r *Run) WriteArtifact(relPath string, write func(w io.Writer) error) (err error) {
	if err := r.requireActive("WriteArtifact"); err != nil {
		return err
	}
	path, err := r.artifactPath(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create artifact directory for %s", relPath)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create artifact %s", relPath)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.WithStack(cerr)
		}
	}()
	if err := write(f); err != nil {
		return errors.Wrapf(err, "failed to write artifact %s", relPath)
	}
	r.logger.Debug("Artifact written", log.ArtifactKey, relPath)
	return nil
}

// LogArtifact copies a local file into artifactDir (may be empty) of the run.
func (r *Run) LogArtifact(localPath, artifactDir string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open artifact %s", localPath)
	}
	defer src.Close()
	return r.WriteArtifact(filepath.Join(artifactDir, filepath.Base(localPath)), func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

// LogModel は v を gob で <artifactPath>/model.gob に保存し、runs:/ URI を返す
func (r *Run) LogModel(artifactPath string, v interface{}) (string, error) {
	if err := r.requireActive("LogModel"); err != nil {
		return "", err
	}
	path, err := r.artifactPath(filepath.Join(artifactPath, ModelFileName))
	if err != nil {
		return "", err
	}
	if err := model.SaveModel(v, path); err != nil {
		return "", errors.Wrapf(err, "failed to log model %s", artifactPath)
	}
	r.logger.Info("Model logged", log.ArtifactKey, artifactPath)
	return r.URI(artifactPath), nil
}

func (r *Run) artifactPath(relPath string) (string, error) {
	clean, err := cleanArtifactPath(relPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.info.ArtifactURI, clean), nil
}

// cleanArtifactPath はランのアーティファクトディレクトリの外を指すパスを拒否する
func cleanArtifactPath(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if relPath == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.NewValidationError("artifact_path", "must be a relative path inside the run", relPath)
	}
	return clean, nil
}

// End はランを終了状態にする。二重に呼んだ場合は何もしない
func (r *Run) End(ctx context.Context, status RunStatus) error {
	if r.info.Status != RunRunning {
		return nil
	}
	if status != RunFinished && status != RunFailed {
		return errors.NewValidationError("status", "must be FINISHED or FAILED", status)
	}
	end := time.UnixMilli(r.store.now().UnixMilli())
	if _, err := r.store.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, end_time = ? WHERE id = ?", string(status), end.UnixMilli(), r.info.ID); err != nil {
		return errors.Wrapf(err, "failed to end run %s", r.info.ID)
	}
	r.info.Status = status
	r.info.EndTime = end
	r.logger.Info("Run ended", log.StageKey, string(status), log.DurationMsKey, end.Sub(r.info.StartTime).Milliseconds())
	return nil
}

// Info returns the run as currently stored, including params and metrics.
func (r *Run) Info(ctx context.Context) (*RunInfo, error) {
	return r.store.GetRun(ctx, r.info.ID)
}

// GetRun はランと記録済みのパラメータ・メトリクスを返す
func (s *Store) GetRun(ctx context.Context, id string) (*RunInfo, error) {
	var (
		info   RunInfo
		status string
		start  int64
		end    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, experiment_id, name, status, start_time, end_time, artifact_uri FROM runs WHERE id = ?`, id,
	).Scan(&info.ID, &info.ExperimentID, &info.Name, &status, &start, &end, &info.ArtifactURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewModelUnavailableError(RunURI(id, ""), "run does not exist")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read run %s", id)
	}
	info.Status = RunStatus(status)
	info.StartTime = time.UnixMilli(start)
	if end.Valid {
		info.EndTime = time.UnixMilli(end.Int64)
	}

	if info.Params, err = s.runParams(ctx, id); err != nil {
		return nil, err
	}
	if info.Metrics, err = s.runMetrics(ctx, id); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *Store) runParams(ctx context.Context, id string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM params WHERE run_id = ?", id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read params of %s", id)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.WithStack(err)
		}
		out[k] = v
	}
	return out, errors.WithStack(rows.Err())
}

func (s *Store) runMetrics(ctx context.Context, id string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM metrics WHERE run_id = ?", id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read metrics of %s", id)
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var (
			k string
			v float64
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.WithStack(err)
		}
		out[k] = v
	}
	return out, errors.WithStack(rows.Err())
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
