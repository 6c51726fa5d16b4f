package dataset

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/pkg/errors"
)

// Column は1列分のデータです。Kind に応じて Strings か Floats のどちらかに値を持ちます。
type Column struct {
	Name    string
	Kind    Kind
	Strings []string
	Floats  []float64
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == Categorical {
		return len(c.Strings)
	}
	return len(c.Floats)
}

func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Kind == Categorical {
		out.Strings = make([]string, len(idx))
		for i, j := range idx {
			out.Strings[i] = c.Strings[j]
		}
		return out
	}
	out.Floats = make([]float64, len(idx))
	for i, j := range idx {
		out.Floats[i] = c.Floats[j]
	}
	return out
}

// StringColumn builds a categorical column.
func StringColumn(name string, values ...string) *Column {
	return &Column{Name: name, Kind: Categorical, Strings: values}
}

// FloatColumn builds a numerical column.
func FloatColumn(name string, values ...float64) *Column {
	return &Column{Name: name, Kind: Numerical, Floats: values}
}

// Frame は列指向の表データです。列の順序は保持されます。
type Frame struct {
	Schema  *Schema
	columns []*Column
	index   map[string]int
	nRows   int
}

// NewFrame は列から Frame を作成します。すべての列は同じ長さでなければなりません。
func NewFrame(columns ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if _, dup := f.index[c.Name]; dup {
			return nil, errors.NewValidationError("column", "duplicate column name", c.Name)
		}
		if i == 0 {
			f.nRows = c.Len()
		} else if c.Len() != f.nRows {
			return nil, errors.NewDimensionError("NewFrame", f.nRows, c.Len(), 0)
		}
		f.index[c.Name] = i
		f.columns = append(f.columns, c)
	}
	return f, nil
}

// NRows returns the number of rows.
func (f *Frame) NRows() int { return f.nRows }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the frame contains a column.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column は列を名前で返します。存在しない場合は DataError を返します。
func (f *Frame) Column(name string) (*Column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, errors.NewDataError(f.source(), name, 0, "missing column", errors.ErrSchemaMismatch)
	}
	return f.columns[i], nil
}

// Take は指定した行インデックスの部分集合を新しい Frame として返します。
func (f *Frame) Take(idx []int) (*Frame, error) {
	for _, j := range idx {
		if j < 0 || j >= f.nRows {
			return nil, errors.NewValueError("Frame.Take", "row index out of range")
		}
	}
	cols := make([]*Column, len(f.columns))
	for i, c := range f.columns {
		cols[i] = c.take(idx)
	}
	out, err := NewFrame(cols...)
	if err != nil {
		return nil, err
	}
	out.Schema = f.Schema
	if len(cols) == 0 {
		out.nRows = len(idx)
	}
	return out, nil
}

// Target は数値列をベクトルとして返します。目的変数の取り出しに使います。
func (f *Frame) Target(name string) (*mat.VecDense, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != Numerical {
		return nil, errors.NewDataError(f.source(), name, 0, "target column must be numerical", nil)
	}
	if c.Len() == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "target %s", name)
	}
	y := make([]float64, len(c.Floats))
	copy(y, c.Floats)
	return mat.NewVecDense(len(y), y), nil
}

// Row は1行分の値を列名をキーにしたマップで返します。入力例の出力に使います。
func (f *Frame) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(f.columns))
	for _, c := range f.columns {
		if c.Kind == Categorical {
			row[c.Name] = c.Strings[i]
		} else {
			row[c.Name] = c.Floats[i]
		}
	}
	return row
}

func (f *Frame) source() string {
	if f.Schema != nil {
		return f.Schema.String()
	}
	return "frame"
}

// FrameFromRecords はレコード（列名をキーにしたマップ）から特徴量列だけの Frame を作る
// 推論リクエストの変換に使う。宣言された列が無い、または型が合わない場合は DataError を返す
func FrameFromRecords(schema *Schema, records []map[string]interface{}) (*Frame, error) {
	if len(records) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no records")
	}
	columns := make([]*Column, 0, len(schema.Features))
	for _, f := range schema.Features {
		c := &Column{Name: f.Name, Kind: f.Kind}
		for r, rec := range records {
			v, ok := rec[f.Name]
			if !ok {
				return nil, errors.NewDataError("request", f.Name, r+1, "missing field", errors.ErrSchemaMismatch)
			}
			if f.Kind == Categorical {
				s, ok := v.(string)
				if !ok {
					return nil, errors.NewDataError("request", f.Name, r+1, fmt.Sprintf("expected string, got %T", v), errors.ErrSchemaMismatch)
				}
				c.Strings = append(c.Strings, s)
				continue
			}
			x, ok := toFloat(v)
			if !ok {
				return nil, errors.NewDataError("request", f.Name, r+1, fmt.Sprintf("expected number, got %T", v), errors.ErrSchemaMismatch)
			}
			c.Floats = append(c.Floats, x)
		}
		columns = append(columns, c)
	}
	frame, err := NewFrame(columns...)
	if err != nil {
		return nil, err
	}
	frame.Schema = schema
	return frame, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
