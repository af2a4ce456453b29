package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron"

	"github.com/rosterhub/rosterhub/models"
)

// StartScheduler runs a periodic pass over groups whose roster is stale and
// re-syncs each from its join source. Re-running a reconciliation is always
// safe, so the job needs no coordination with interactive syncs.
func StartScheduler(r *Reconciler, schedule string, maxAge time.Duration) (*cron.Cron, error) {
	c := cron.New()
	err := c.AddFunc(schedule, func() {
		ResyncStaleGroups(context.Background(), r, maxAge)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	slog.Info("roster re-sync scheduler started", "schedule", schedule, "maxAge", maxAge)
	return c, nil
}

// ResyncStaleGroups syncs every group whose last inbound sync is older than
// maxAge. Failures are logged and skipped; one unreachable roster source
// shouldn't stall the rest of the pass.
func ResyncStaleGroups(ctx context.Context, r *Reconciler, maxAge time.Duration) {
	groups, err := r.DB.StaleSyncedGroups(time.Now().UTC().Add(-maxAge))
	if err != nil {
		slog.Error("error fetching stale groups", "error", err)
		return
	}
	slog.Info("re-syncing stale groups", "count", len(groups))

	for _, group := range groups {
		group := group
		course, err := r.DB.GetCourseById(group.CourseID)
		if err != nil {
			slog.Error("error fetching course for group", "groupId", group.ID, "error", err)
			continue
		}
		_, err = r.SyncGroup(ctx, course, &group)
		if err != nil {
			var unresolved *models.UnresolvedIdentityError
			if errors.As(err, &unresolved) {
				slog.Warn("group synced with unmapped members", "group", group.Slug, "unmapped", unresolved.Unmapped)
				continue
			}
			slog.Error("error re-syncing group", "group", group.Slug, "error", err)
		}
	}
}
