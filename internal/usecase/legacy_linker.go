package usecase

import (
	"context"
	"fmt"
	"time"

	"grantdesk/internal/domain"

	"github.com/sirupsen/logrus"
)

const taskKindLegacyLink = "link_legacy"

// LegacyLinker marks legacy reports superseded once the structured report
// for the same subject and period is submitted. It runs in the background
// and never affects the submission itself.
type LegacyLinker struct {
	Repo  LegacyRepository
	Queue TaskQueue
	Audit *AuditEmitter
	Log   logrus.FieldLogger
	Clock Clock
}

func (l *LegacyLinker) Schedule(report domain.Report) {
	if l == nil || l.Repo == nil || l.Queue == nil {
		return
	}
	log := l.logger().WithField("report_id", report.ID)
	err := l.Queue.Enqueue(BackgroundTask{
		Kind:    taskKindLegacyLink,
		ID:      report.ID,
		LockKey: fmt.Sprintf("legacy:%s:%s", report.SubjectID, report.Period.Label()),
		Run: func(ctx context.Context, attempt int) error {
			_, err := l.Link(ctx, report)
			return err
		},
		GiveUp: func(ctx context.Context, err error) {
			log.WithError(err).Warn("legacy linkage abandoned; the next submission retries it")
		},
	})
	if err != nil {
		log.WithError(err).Warn("failed to schedule legacy linkage")
	}
}

// Link performs the linkage synchronously and returns the linked legacy ids.
func (l *LegacyLinker) Link(ctx context.Context, report domain.Report) ([]string, error) {
	ids, err := l.Repo.LinkResubmissions(ctx, report.SubjectID, report.Period, report.ID, l.now())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}
	log := l.logger().WithFields(logrus.Fields{"report_id": report.ID, "legacy_ids": ids})
	log.Info("legacy reports linked")
	if l.Audit != nil {
		if err := l.Audit.EmitLegacyLinked(ctx, report, ids); err != nil {
			log.WithError(err).Error("failed to write audit event")
		}
	}
	return ids, nil
}

func (l *LegacyLinker) now() time.Time {
	if l.Clock != nil {
		return l.Clock().UTC()
	}
	return time.Now().UTC()
}

func (l *LegacyLinker) logger() logrus.FieldLogger {
	if l.Log != nil {
		return l.Log.WithField("component", "legacy")
	}
	return logrus.StandardLogger().WithField("component", "legacy")
}
