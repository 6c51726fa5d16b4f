package tracking

import (
	"context"
	"strings"

	"github.com/YuminosukeSato/examscore/pkg/errors"
)

// SearchOptions controls SearchRuns.
type SearchOptions struct {
	// OrderBy はメトリクス名。空の場合は開始時刻の新しい順
	OrderBy   string
	Ascending bool
	// Status が空でなければその状態のランだけを返す
	Status RunStatus
	// Limit が 0 以下なら無制限
	Limit int
}

// SearchRuns は実験内のランを検索する
// OrderBy のメトリクスを持たないランは常に末尾に並ぶ
func (s *Store) SearchRuns(ctx context.Context, experimentID int64, opts SearchOptions) ([]*RunInfo, error) {
	var (
		query strings.Builder
		args  []interface{}
	)
	query.WriteString("SELECT r.id FROM runs r")
	if opts.OrderBy != "" {
		query.WriteString(" LEFT JOIN metrics m ON m.run_id = r.id AND m.key = ?")
		args = append(args, opts.OrderBy)
	}
	query.WriteString(" WHERE r.experiment_id = ?")
	args = append(args, experimentID)
	if opts.Status != "" {
		query.WriteString(" AND r.status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.OrderBy != "" {
		dir := "DESC"
		if opts.Ascending {
			dir = "ASC"
		}
		query.WriteString(" ORDER BY m.value IS NULL, m.value " + dir + ", r.start_time DESC")
	} else {
		query.WriteString(" ORDER BY r.start_time DESC")
	}
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query.WriteString(" LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search runs")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.WithStack(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.WithStack(err)
	}
	rows.Close()

	runs := make([]*RunInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, info)
	}
	return runs, nil
}

// BestRun は実験内で metric が最大の完了済みランを返す
// 実験が無い、または metric を記録した完了ランが無い場合は ModelUnavailableError
func (s *Store) BestRun(ctx context.Context, experiment, metric string) (*RunInfo, error) {
	exp, err := s.GetExperimentByName(ctx, experiment)
	if err != nil {
		return nil, err
	}
	runs, err := s.SearchRuns(ctx, exp.ID, SearchOptions{OrderBy: metric, Status: RunFinished, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.NewModelUnavailableError("experiment:"+experiment, "no finished runs")
	}
	if _, ok := runs[0].Metrics[metric]; !ok {
		return nil, errors.NewModelUnavailableError("experiment:"+experiment, "no run has logged metric "+metric)
	}
	return runs[0], nil
}
