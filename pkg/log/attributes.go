// Standard attribute keys for structured log fields.
//
// Keys follow a dotted hierarchy ("model.name", "data.samples") so log
// processors can group and filter them.

package log

// Model and operation context.
const (
	// ModelNameKey identifies the estimator type.
	// Examples: "RandomForestRegressor", "OneHotEncoder", "Pipeline"
	ModelNameKey = "model.name"

	// ModelURIKey is the registry or run URI a model was resolved from.
	// Examples: "models:/student-score-regressor/Production", "runs:/<id>/student_model"
	ModelURIKey = "model.uri"

	// ModelVersionKey is the registered model version number.
	ModelVersionKey = "model.version"

	// OperationKey specifies the ML operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies the package performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the model lifecycle.
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ColumnsKey  = "data.columns"
	SourceKey   = "data.source"
	SchemaKey   = "data.schema"
)

// Performance and evaluation.
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	MAEKey     = "metrics.mae"
	MSEKey     = "metrics.mse"
	RMSEKey    = "metrics.rmse"
	R2ScoreKey = "metrics.r2_score"

	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"
)

// Experiment tracking.
const (
	ExperimentKey = "tracking.experiment"
	RunIDKey      = "tracking.run_id"
	ArtifactKey   = "tracking.artifact"
	StageKey      = "registry.stage"
)

// Hyperparameters.
const (
	NEstimatorsKey = "hyperparams.n_estimators"
	MaxDepthKey    = "hyperparams.max_depth"
	TestSizeKey    = "hyperparams.test_size"
	RandomSeedKey  = "config.random_seed"
)

// HTTP serving.
const (
	HTTPMethodKey = "http.method"
	HTTPPathKey   = "http.path"
	HTTPStatusKey = "http.status"
	RemoteAddrKey = "http.remote_addr"
)

// Error context.
const (
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationLoad         = "load"
	OperationSave         = "save"
	OperationRegister     = "register"

	PhaseTraining      = "training"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
