// Package dataset はCSVの表データを読み込み、宣言されたスキーマで検証します。
//
// スキーマは YAML で宣言され、バージョン番号を持ちます。データセットの隣に
// <name>.schema.yaml を置くとそれが使われ、無い場合は列の値から推論されます。
package dataset

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/examscore/pkg/errors"
)

//go:embed schemas/*.yaml
var embeddedSchemas embed.FS

// DefaultSchemaName is the embedded schema used when nothing else is declared.
const DefaultSchemaName = "student_habits_v1"

// Kind は特徴量列の種類です。
type Kind int

const (
	Numerical Kind = iota
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Numerical:
		return "numerical"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind converts "numerical" or "categorical" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numerical", "numeric", "number":
		return Numerical, nil
	case "categorical", "category", "string":
		return Categorical, nil
	default:
		return Numerical, errors.NewValidationError("kind", "must be numerical or categorical", s)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (k Kind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Field は特徴量列の宣言です。
// Categories が空でない場合、読み込み時にすべての値がその中に含まれることを検証します。
type Field struct {
	Name       string   `yaml:"name" json:"name"`
	Kind       Kind     `yaml:"kind" json:"kind"`
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Schema はデータセットの明示的なスキーマです。
type Schema struct {
	Name     string  `yaml:"name" json:"name"`
	Version  int     `yaml:"version" json:"version"`
	ID       string  `yaml:"id" json:"id"`
	Target   string  `yaml:"target" json:"target"`
	Features []Field `yaml:"features" json:"features"`

	// Inferred は列の値から推論されたスキーマであることを示します。
	Inferred bool `yaml:"-" json:"inferred,omitempty"`
}

// ParseSchema は YAML からスキーマを読み込み、検証します。
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "failed to parse schema yaml")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSchema はファイルからスキーマを読み込みます。
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewDataError(path, "", 0, "cannot read schema file", err)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s", path)
	}
	return s, nil
}

// EmbeddedSchema は組み込みのスキーマを名前で返します（例: "student_habits_v1"）。
func EmbeddedSchema(name string) (*Schema, error) {
	data, err := embeddedSchemas.ReadFile("schemas/" + name + ".yaml")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "embedded schema %q", name)
	}
	return ParseSchema(data)
}

// DefaultSchema は student_habits/v1 スキーマを返します。
func DefaultSchema() *Schema {
	s, err := EmbeddedSchema(DefaultSchemaName)
	if err != nil {
		panic(fmt.Sprintf("embedded default schema is invalid: %v", err))
	}
	return s
}

// Validate はスキーマ自体の整合性を検証します。
func (s *Schema) Validate() error {
	if s.Version < 1 {
		return errors.NewValidationError("version", "must be >= 1", s.Version)
	}
	if s.Target == "" {
		return errors.NewValidationError("target", "must not be empty", s.Target)
	}
	if len(s.Features) == 0 {
		return errors.NewValidationError("features", "at least one feature is required", len(s.Features))
	}
	seen := map[string]bool{s.Target: true}
	if s.ID != "" {
		if s.ID == s.Target {
			return errors.NewValidationError("id", "must differ from target", s.ID)
		}
		seen[s.ID] = true
	}
	for _, f := range s.Features {
		if f.Name == "" {
			return errors.NewValidationError("features.name", "must not be empty", f.Name)
		}
		if seen[f.Name] {
			return errors.NewValidationError("features.name", "duplicate or reserved column", f.Name)
		}
		seen[f.Name] = true
		if f.Kind == Numerical && len(f.Categories) > 0 {
			return errors.NewValidationError("features.categories", "only categorical columns may declare categories", f.Name)
		}
	}
	return nil
}

// FeatureNames returns the declared feature column names in order.
func (s *Schema) FeatureNames() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Field looks up a feature declaration by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// String returns "<name>/v<version>".
func (s *Schema) String() string {
	name := s.Name
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("%s/v%d", name, s.Version)
}

// Partition は特徴量を宣言順のままカテゴリ列と数値列に分けます。
// target と ID 列は常に除外されます。
func Partition(s *Schema, target string) (categorical, numerical []string) {
	for _, f := range s.Features {
		if f.Name == target || f.Name == s.Target || (s.ID != "" && f.Name == s.ID) {
			continue
		}
		switch f.Kind {
		case Categorical:
			categorical = append(categorical, f.Name)
		default:
			numerical = append(numerical, f.Name)
		}
	}
	return categorical, numerical
}
