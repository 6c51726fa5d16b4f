package serving

import (
	"context"
	"time"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
	"github.com/YuminosukeSato/examscore/sklearn/pipeline"
	"github.com/YuminosukeSato/examscore/tracking"
)

// Handle は起動時に一度だけ読み込まれる推論用モデルです。
//
// 作成後は変更されないため、サーバの全リクエストから同時に Predict を呼び出せます。
type Handle struct {
	pipeline *pipeline.Pipeline
	uri      string
	version  int
	loadedAt time.Time
}

// NewHandle wraps a fitted pipeline. version is 0 when the model is not from the registry.
// A pipeline whose features cannot be filled from StudentFeatures is rejected with a DataError.
func NewHandle(uri string, p *pipeline.Pipeline, version int) (*Handle, error) {
	if p == nil || !p.IsFitted() {
		return nil, errors.NewModelUnavailableError(uri, "pipeline is not fitted")
	}
	if p.Schema == nil {
		return nil, errors.NewModelUnavailableError(uri, "pipeline has no feature schema")
	}
	if err := checkRequestSchema(uri, p.Schema); err != nil {
		return nil, err
	}
	return &Handle{pipeline: p, uri: uri, version: version, loadedAt: time.Now()}, nil
}

// LoadHandle は models:/<name>/<stage> を解決してモデルを読み込む
// 中身は解決したバージョンの runs:/ ソースから読む
// 失敗した場合は ModelUnavailableError を返す
func LoadHandle(ctx context.Context, store *tracking.Store, name, stage string) (*Handle, error) {
	uri := tracking.ModelURI(name, stage)
	mv, err := store.ResolveVersion(ctx, name, stage)
	if err != nil {
		return nil, err
	}
	var p pipeline.Pipeline
	if err := store.LoadModel(ctx, mv.Source, &p); err != nil {
		return nil, err
	}
	h, err := NewHandle(uri, &p, mv.Version)
	if err != nil {
		return nil, err
	}
	log.GetLoggerWithName("serving").Info("Model handle loaded",
		log.ModelURIKey, uri,
		log.ModelVersionKey, mv.Version,
		log.RunIDKey, mv.RunID,
		log.ArtifactKey, mv.Source,
		log.SchemaKey, p.Schema.String(),
	)
	return h, nil
}

// LoadHandleFromFile loads a pipeline written by the file sink.
func LoadHandleFromFile(path string) (*Handle, error) {
	var p pipeline.Pipeline
	if err := model.LoadModel(&p, path); err != nil {
		return nil, errors.NewModelUnavailableError(path, err.Error())
	}
	return NewHandle(path, &p, 0)
}

// URI returns the model URI or file the handle was loaded from.
func (h *Handle) URI() string { return h.uri }

// Version returns the registry version, 0 for file models.
func (h *Handle) Version() int { return h.version }

// LoadedAt returns when the handle was created.
func (h *Handle) LoadedAt() time.Time { return h.loadedAt }

// Schema returns the feature schema the model was trained with.
func (h *Handle) Schema() string { return h.pipeline.Schema.String() }

// Predict はレコードごとの予測スコアを返す
func (h *Handle) Predict(records []map[string]interface{}) ([]float64, error) {
	pred, err := h.pipeline.PredictRecords(records)
	if err != nil {
		return nil, err
	}
	out := make([]float64, pred.Len())
	for i := range out {
		out[i] = pred.AtVec(i)
	}
	return out, nil
}
