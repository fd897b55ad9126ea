// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// セッションは読み取り時にも削除されるが、アクセスされないまま期限切れになった行は
// このジョブで回収する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は削除件数と所要時間を記録する。
type Recorder interface {
	RecordSessionsSwept(count int64, duration time.Duration)
}

// SessionSweepJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type SessionSweepJob struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	// Grace は期限切れからこの時間が経過したセッションのみを削除する（デフォルト: 0）。
	Grace time.Duration
}

// NewSessionSweepJob は新しいSessionSweepJobを生成する。recorderはnilでもよい。
func NewSessionSweepJob(db Executor, logger *slog.Logger, recorder Recorder) *SessionSweepJob {
	return &SessionSweepJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は expires_at が now - Grace 以前のセッションを削除する。
func (j *SessionSweepJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().Add(-j.Grace)

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, cutoff)
	if err != nil {
		j.logger.Error("session sweep failed",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
		)
		return fmt.Errorf("failed to sweep expired sessions: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to get swept session count",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to get swept session count: %w", err)
	}

	duration := time.Since(start)
	if j.recorder != nil {
		j.recorder.RecordSessionsSwept(deletedCount, duration)
	}

	j.logger.Info("session sweep completed",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// RunEvery は起動直後に1回Runを実行し、以降intervalごとにctxがキャンセルされるまで繰り返す。
// Runの失敗はログに記録して次回に持ち越す。
func (j *SessionSweepJob) RunEvery(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *SessionSweepJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("session sweep will retry on next tick",
			slog.String("error", err.Error()),
		)
	}
}
