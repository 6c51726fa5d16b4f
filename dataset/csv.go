package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

// SidecarSchemaPath は data.csv に対して data.schema.yaml を返します。
func SidecarSchemaPath(dataPath string) string {
	return strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + ".schema.yaml"
}

// LoadCSV はCSVファイルを読み込みます。
//
// schema が nil の場合、まずデータセットの隣の <name>.schema.yaml を探し、
// 無ければ列の値からスキーマを推論して警告を出します。
//
// パラメータ:
//   - path: CSV ファイルのパス（ヘッダ行必須）
//   - schema: 宣言済みスキーマ。nil 可
//   - logger: nil の場合はグローバルロガーを使用
//
// 戻り値:
//   - *Frame: Schema フィールドに使用したスキーマが設定された Frame
//   - error: ファイルが無い、セルが不正、列が不足している場合の DataError
func LoadCSV(path string, schema *Schema, logger log.Logger) (*Frame, error) {
	if logger == nil {
		logger = log.GetLoggerWithName("dataset")
	}

	if schema == nil {
		sidecar := SidecarSchemaPath(path)
		if _, err := os.Stat(sidecar); err == nil {
			s, err := LoadSchema(sidecar)
			if err != nil {
				return nil, err
			}
			schema = s
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewDataError(path, "", 0, "cannot open dataset", err)
	}
	defer file.Close()

	frame, err := ReadCSV(file, path, schema)
	if err != nil {
		return nil, err
	}

	if frame.Schema.Inferred {
		errors.Warn(errors.NewSchemaInferredWarning(path, len(frame.Schema.Features)))
		logger.Warn("Dataset schema was inferred from cell values",
			log.SourceKey, path,
			log.ColumnsKey, len(frame.Schema.Features),
		)
	}
	logger.Info("Dataset loaded",
		log.SourceKey, path,
		log.SchemaKey, frame.Schema.String(),
		log.SamplesKey, frame.NRows(),
		log.FeaturesKey, len(frame.Schema.Features),
	)
	return frame, nil
}

// ReadCSV は r からCSVを読み込みます。source はエラーメッセージに使われます。
// schema が nil の場合は InferSchema の規則で推論します。
func ReadCSV(r io.Reader, source string, schema *Schema) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.NewDataError(source, "", 0, "malformed csv", err)
	}
	if len(records) == 0 {
		return nil, errors.NewDataError(source, "", 0, "missing header row", errors.ErrEmptyData)
	}
	header := records[0]
	rows := records[1:]
	if len(rows) == 0 {
		return nil, errors.NewDataError(source, "", 0, "no data rows", errors.ErrEmptyData)
	}

	if schema == nil {
		def := DefaultSchema()
		schema, err = InferSchema(header, rows, def.ID, def.Target)
		if err != nil {
			return nil, errors.Wrapf(err, "infer schema for %s", source)
		}
	}

	return buildFrame(source, schema, header, rows)
}

func buildFrame(source string, schema *Schema, header []string, rows [][]string) (*Frame, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}

	var columns []*Column
	if schema.ID != "" {
		i, ok := pos[schema.ID]
		if !ok {
			return nil, errors.NewDataError(source, schema.ID, 0, "id column missing from header", errors.ErrSchemaMismatch)
		}
		c := &Column{Name: schema.ID, Kind: Categorical, Strings: make([]string, len(rows))}
		for r, rec := range rows {
			c.Strings[r] = rec[i]
		}
		columns = append(columns, c)
	}

	for _, f := range schema.Features {
		i, ok := pos[f.Name]
		if !ok {
			return nil, errors.NewDataError(source, f.Name, 0, "declared column missing from header", errors.ErrSchemaMismatch)
		}
		c, err := parseColumn(source, f, i, rows)
		if err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}

	i, ok := pos[schema.Target]
	if !ok {
		return nil, errors.NewDataError(source, schema.Target, 0, "target column missing from header", errors.ErrSchemaMismatch)
	}
	target, err := parseColumn(source, Field{Name: schema.Target, Kind: Numerical}, i, rows)
	if err != nil {
		return nil, err
	}
	columns = append(columns, target)

	frame, err := NewFrame(columns...)
	if err != nil {
		return nil, err
	}
	frame.Schema = schema
	return frame, nil
}

func parseColumn(source string, f Field, idx int, rows [][]string) (*Column, error) {
	c := &Column{Name: f.Name, Kind: f.Kind}
	var allowed map[string]bool
	if len(f.Categories) > 0 {
		allowed = make(map[string]bool, len(f.Categories))
		for _, v := range f.Categories {
			allowed[v] = true
		}
	}

	for r, rec := range rows {
		cell := strings.TrimSpace(rec[idx])
		// ヘッダを1行目として数える
		line := r + 2
		if f.Kind == Numerical {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, errors.NewDataError(source, f.Name, line, "cell is not a number", err)
			}
			c.Floats = append(c.Floats, v)
			continue
		}
		if allowed != nil && !allowed[cell] {
			return nil, errors.NewDataError(source, f.Name, line, "value "+strconv.Quote(cell)+" is not a declared category", errors.ErrSchemaMismatch)
		}
		c.Strings = append(c.Strings, cell)
	}
	return c, nil
}

// InferSchema は列の値から種類を推論したスキーマを返します。
//
// 列のすべてのセルが数値として解釈できる場合のみ数値列とし、1つでも
// 解釈できないセル（空欄を含む）があれば列全体をカテゴリ列とします。
// 値ごとに種類を変えることはありません。
func InferSchema(header []string, rows [][]string, id, target string) (*Schema, error) {
	hasTarget := false
	s := &Schema{Name: "inferred", Version: 1, Target: target, Inferred: true}
	for i, h := range header {
		name := strings.TrimSpace(h)
		switch name {
		case target:
			hasTarget = true
			continue
		case id:
			s.ID = id
			continue
		}
		kind := Numerical
		for _, rec := range rows {
			if _, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64); err != nil {
				kind = Categorical
				break
			}
		}
		s.Features = append(s.Features, Field{Name: name, Kind: kind})
	}
	if !hasTarget {
		return nil, errors.NewDataError("header", target, 0, "target column missing from header", errors.ErrSchemaMismatch)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
