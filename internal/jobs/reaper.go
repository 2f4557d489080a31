package jobs

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"pressbeat/internal/config"
	"pressbeat/internal/pageviews"
	"pressbeat/internal/sessions"
)

const reaperBatchSize = 500

// ReaperJob expires idle sessions, finalizes their last page view and
// enforces the retention window on long-dead sessions.
type ReaperJob struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cfg       *config.Config
	recorder  *pageviews.Recorder
}

func NewReaperJob(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *ReaperJob {
	return &ReaperJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
		recorder:  pageviews.NewRecorder(logger),
	}
}

// Run marks sessions idle past the inactivity timeout as inactive. Each
// expired session's last open page view gets its time-on-page set and, for
// single-page sessions, its bounce flag forced. One session's failure never
// aborts the batch.
func (j *ReaperJob) Run() error {
	db := j.dbManager.GetConnection()
	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(j.cfg.SessionTimeoutSeconds) * time.Second)

	var expiredCount, finalizeErrors int
	for {
		expired, err := sessions.FindExpiredActive(db, cutoff, reaperBatchSize)
		if err != nil {
			j.logger.Error("Failed to query expired sessions", slog.Any("error", err))
			return err
		}
		if len(expired) == 0 {
			break
		}

		for i := range expired {
			session := &expired[i]

			won, err := sessions.MarkInactive(j.logger, db, session.SessionID, cutoff)
			if err != nil {
				j.logger.Error("Failed to mark session inactive",
					slog.String("session_id", session.SessionID),
					slog.Any("error", err))
				finalizeErrors++
				continue
			}
			if !won {
				// A request touched the session after we loaded it; it is
				// alive again and not ours to finalize.
				continue
			}
			expiredCount++

			// Close out relative to the session's last activity, not the
			// reaper's run time, so idle time never counts as reading time.
			if err := j.recorder.FinalizeLast(db, session, session.EndTime); err != nil {
				j.logger.Error("Failed to finalize last page view",
					slog.String("session_id", session.SessionID),
					slog.Any("error", err))
				finalizeErrors++
			}
		}

		if len(expired) < reaperBatchSize {
			break
		}
	}

	deleted, err := j.deleteExpiredByRetention(now)
	if err != nil {
		j.logger.Error("Failed to delete sessions past retention", slog.Any("error", err))
	}

	if expiredCount > 0 || deleted > 0 {
		j.logger.Info("Session reaper pass completed",
			slog.Int("expired", expiredCount),
			slog.Int("finalize_errors", finalizeErrors),
			slog.Int64("deleted", deleted))
	}
	return nil
}

// deleteExpiredByRetention hard-deletes sessions inactive longer than the
// retention window to bound storage growth.
func (j *ReaperJob) deleteExpiredByRetention(now time.Time) (int64, error) {
	retention := time.Duration(j.cfg.SessionRetentionDays) * 24 * time.Hour
	db := j.dbManager.GetConnection()
	return sessions.DeleteInactiveBefore(j.logger, db, now.Add(-retention), 1000)
}
