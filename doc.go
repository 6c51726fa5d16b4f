// Package examscore は学生の生活習慣から試験スコアを予測する回帰モデルの
// 学習・記録・登録・推論を一通り扱うライブラリとコマンド群です。
//
// # Features
//
//   - 宣言的で版管理された特徴量スキーマ（dataset）
//   - One-hot 符号化とランダムフォレスト回帰のパイプライン（preprocessing, sklearn/...）
//   - シード固定の学習・評価分割と回帰指標（sklearn/modelselection, metrics）
//   - sqlite による実験記録とモデルレジストリ（tracking）
//   - 起動時に一度だけ読み込む不変モデルでの HTTP 推論（serving）
//
// # Quick Start
//
//	p := training.DefaultParams()
//	p.DataPath = "student_habits_performance.csv"
//
//	store, err := tracking.Open("mlruns.db", "mlruns")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := training.Run(ctx, p, training.TrackingSink{Store: store, Experiment: "student-score-regression-project"}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Report)
//
// # Commands
//
// cmd/ 以下に train, sweep, register, runs, predict, serve, gateway があります。
// 設定は pkg/config の YAML と環境変数、各コマンドのフラグの順に上書きされます。
//
// # Error Handling
//
// エラーは pkg/errors の型（DataError, ModelUnavailableError, ValidationError など）で
// 返され、errors.Is / errors.As で判別できます。
package examscore
