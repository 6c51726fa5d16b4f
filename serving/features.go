package serving

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/YuminosukeSato/examscore/dataset"
	"github.com/YuminosukeSato/examscore/pkg/errors"
)

// StudentFeatures は /predict の入力です。
//
// ポインタにすることで、ゼロ値（0 や ""）は受け付けつつ、欠けているフィールドを
// 検証で弾けるようにしています。整数の項目は 20.0 のような整数値の浮動小数も受け付けます。
type StudentFeatures struct {
	Age                          *float64 `json:"age" validate:"required,integral"`
	Gender                       *string  `json:"gender" validate:"required"`
	StudyHoursPerDay             *float64 `json:"study_hours_per_day" validate:"required"`
	SocialMediaHours             *float64 `json:"social_media_hours" validate:"required"`
	NetflixHours                 *float64 `json:"netflix_hours" validate:"required"`
	PartTimeJob                  *string  `json:"part_time_job" validate:"required"`
	AttendancePercentage         *float64 `json:"attendance_percentage" validate:"required"`
	SleepHours                   *float64 `json:"sleep_hours" validate:"required"`
	DietQuality                  *string  `json:"diet_quality" validate:"required"`
	ExerciseFrequency            *float64 `json:"exercise_frequency" validate:"required,integral"`
	ParentalEducationLevel       *string  `json:"parental_education_level" validate:"required"`
	InternetQuality              *string  `json:"internet_quality" validate:"required"`
	MentalHealthRating           *float64 `json:"mental_health_rating" validate:"required,integral"`
	ExtracurricularParticipation *string  `json:"extracurricular_participation" validate:"required"`
}

// Record は列名をキーにしたレコードに変換する
func (f StudentFeatures) Record() map[string]interface{} {
	rec := make(map[string]interface{}, 14)
	v := reflect.ValueOf(f)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		fv := v.Field(i)
		if fv.IsNil() {
			continue
		}
		rec[jsonName(t.Field(i))] = fv.Elem().Interface()
	}
	return rec
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func featuresValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonName)
		_ = validate.RegisterValidation("integral", isIntegral)
	})
	return validate
}

// Validate は欠けているフィールドを列挙したメッセージを返す
func (f *StudentFeatures) Validate() error {
	err := featuresValidator().Struct(f)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field '%s' is required", fe.Field()))
			continue
		case "integral":
			msgs = append(msgs, fmt.Sprintf("field '%s' must be an integer", fe.Field()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
	}
	return &validationError{detail: strings.Join(msgs, "; ")}
}

func isIntegral(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		x := f.Float()
		return !math.IsInf(x, 0) && x == math.Trunc(x)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

type validationError struct {
	detail string
}

func (e *validationError) Error() string { return e.detail }

// ExampleStudent returns a complete sample request.
func ExampleStudent() StudentFeatures {
	return StudentFeatures{
		Age:                          ptr(20.0),
		Gender:                       ptr("Female"),
		StudyHoursPerDay:             ptr(4.5),
		SocialMediaHours:             ptr(2.0),
		NetflixHours:                 ptr(1.5),
		PartTimeJob:                  ptr("No"),
		AttendancePercentage:         ptr(85.0),
		SleepHours:                   ptr(7.0),
		DietQuality:                  ptr("Good"),
		ExerciseFrequency:            ptr(3.0),
		ParentalEducationLevel:       ptr("Bachelor"),
		InternetQuality:              ptr("Good"),
		MentalHealthRating:           ptr(8.0),
		ExtracurricularParticipation: ptr("Yes"),
	}
}

func ptr[T any](v T) *T { return &v }

// requestKinds は StudentFeatures の各 json 名が埋める列の種類です。
func requestKinds() map[string]dataset.Kind {
	t := reflect.TypeOf(StudentFeatures{})
	kinds := make(map[string]dataset.Kind, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Elem().Kind() == reflect.String {
			kinds[jsonName(f)] = dataset.Categorical
		} else {
			kinds[jsonName(f)] = dataset.Numerical
		}
	}
	return kinds
}

// checkRequestSchema は学習時のスキーマの全特徴量がリクエストから埋められることを確認する
func checkRequestSchema(source string, schema *dataset.Schema) error {
	kinds := requestKinds()
	for _, f := range schema.Features {
		kind, ok := kinds[f.Name]
		if !ok {
			return errors.NewDataError(source, f.Name, 0, "feature is not part of the prediction request", errors.ErrSchemaMismatch)
		}
		if kind != f.Kind {
			return errors.NewDataError(source, f.Name, 0,
				fmt.Sprintf("model expects a %s feature but the request provides %s", f.Kind, kind), errors.ErrSchemaMismatch)
		}
	}
	return nil
}
