// Package log は examscore 全体で使用する構造化ロギングのインターフェースを提供します。
//
// 実装は zerolog をバックエンドとする ZerologProvider と、テスト用にログをメモリへ
// 取り込む TestLoggerProvider の2種類です。各コンポーネントは Logger インターフェースに
// のみ依存し、どちらの実装にも差し替えられます。
//
// Example usage:
//
//	logger := log.GetLoggerWithName("training").With(
//	    log.ModelNameKey, "RandomForestRegressor",
//	    log.RunIDKey, runID,
//	)
//	logger.Info("Training started",
//	    log.OperationKey, log.OperationFit,
//	    log.SamplesKey, 80,
//	    log.FeaturesKey, 14,
//	)
package log

import (
	"context"
)

// Logger はキーと値のペアで構造化フィールドを受け取るロガーです。
//
// fields は "key", value, "key", value, ... の順で渡します。
// Error の最初のフィールドが error 値の場合は、エラー本体として特別に扱われます。
//
//	logger.Error("Model training failed", err,
//	    log.OperationKey, log.OperationFit,
//	)
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With は指定したフィールドを常に付与する新しい Logger を返します。
	With(fields ...any) Logger

	// Enabled は指定したレベルのログが出力されるかを返します。
	// 高コストなフィールドの計算を避けるために使用します。
	Enabled(ctx context.Context, level Level) bool
}

// Level はログレベルです。値は slog.Level と互換です。
type Level int

const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider はロガーの生成とレベル設定を担います。
// コマンドは起動時にプロバイダを1つ作り、SetGlobalProvider で登録します。
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for all loggers created by this provider.
	SetLevel(level Level)
}
