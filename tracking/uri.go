package tracking

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

// URI schemes.
const (
	SchemeRuns   = "runs"
	SchemeModels = "models"
)

// Ref is a parsed model URI.
//
//	runs:/<run_id>/<artifact_path>
//	models:/<name>/<version|stage|latest>
type Ref struct {
	Scheme string

	RunID        string
	ArtifactPath string

	Name     string
	Selector string
}

// RunURI formats a runs:/ URI.
func RunURI(runID, artifactPath string) string {
	return SchemeRuns + ":/" + path.Join(runID, filepath.ToSlash(artifactPath))
}

// ModelURI formats a models:/ URI.
func ModelURI(name, selector string) string {
	return SchemeModels + ":/" + name + "/" + selector
}

// ParseURI は runs:/ と models:/ の URI を解析する
func ParseURI(uri string) (Ref, error) {
	scheme, rest, ok := strings.Cut(uri, ":/")
	if !ok {
		return Ref{}, errors.NewValidationError("uri", "must start with runs:/ or models:/", uri)
	}
	rest = strings.TrimPrefix(rest, "/")
	switch scheme {
	case SchemeRuns:
		id, artifact, _ := strings.Cut(rest, "/")
		if id == "" {
			return Ref{}, errors.NewValidationError("uri", "missing run id", uri)
		}
		return Ref{Scheme: SchemeRuns, RunID: id, ArtifactPath: artifact}, nil
	case SchemeModels:
		name, selector, ok := strings.Cut(rest, "/")
		if !ok || name == "" || selector == "" {
			return Ref{}, errors.NewValidationError("uri", "must be models:/<name>/<version|stage>", uri)
		}
		return Ref{Scheme: SchemeModels, Name: name, Selector: selector}, nil
	default:
		return Ref{}, errors.NewValidationError("uri", "unknown scheme "+scheme, uri)
	}
}

// ResolveVersion は models:/ URI のバージョン・段階・latest をモデルバージョンに解決する
func (s *Store) ResolveVersion(ctx context.Context, name, selector string) (*ModelVersion, error) {
	if v, err := strconv.Atoi(selector); err == nil {
		return s.GetModelVersion(ctx, name, v)
	}
	if strings.EqualFold(selector, "latest") {
		return s.LatestVersion(ctx, name, "")
	}
	stage, err := ParseStage(selector)
	if err != nil {
		return nil, errors.NewModelUnavailableError(ModelURI(name, selector), "unknown stage "+selector)
	}
	return s.LatestVersion(ctx, name, stage)
}

// ResolveModelURI はモデル URI をローカルのアーティファクトパスに解決する
func (s *Store) ResolveModelURI(ctx context.Context, uri string) (string, error) {
	ref, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if ref.Scheme == SchemeModels {
		mv, err := s.ResolveVersion(ctx, ref.Name, ref.Selector)
		if err != nil {
			return "", err
		}
		if ref, err = ParseURI(mv.Source); err != nil {
			return "", err
		}
	}
	run, err := s.GetRun(ctx, ref.RunID)
	if err != nil {
		return "", err
	}
	if ref.ArtifactPath == "" {
		return run.ArtifactURI, nil
	}
	rel, err := cleanArtifactPath(ref.ArtifactPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(run.ArtifactURI, rel), nil
}

// LoadModel はモデル URI を解決して gob から v に復元する
// 解決や復元に失敗した場合は ModelUnavailableError を返す
func (s *Store) LoadModel(ctx context.Context, uri string, v interface{}) error {
	p, err := s.ResolveModelURI(ctx, uri)
	if err != nil {
		if errors.Is(err, errors.ErrModelUnavailable) {
			return err
		}
		return errors.NewModelUnavailableError(uri, err.Error())
	}
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		p = filepath.Join(p, ModelFileName)
	}
	if err := model.LoadModel(v, p); err != nil {
		return errors.NewModelUnavailableError(uri, err.Error())
	}
	s.logger.Info("Model loaded", log.OperationKey, log.OperationLoad, log.ModelURIKey, uri, log.ArtifactKey, p)
	return nil
}
