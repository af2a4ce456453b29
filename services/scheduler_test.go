package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhub/rosterhub/models"
)

func TestResyncStaleGroups(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	course := seedCourse(t, database, "inf100")
	ann := seedUser(t, database, course, "ann", 1, models.RoleStudent)
	stale := seedAutoGroup(t, database, course, "stale", "gitlab(100)")
	fresh := seedAutoGroup(t, database, course, "fresh", "gitlab(200)")

	recent := time.Now().UTC()
	require.NoError(t, models.SetSync(database.GormDB, fresh.ID, models.TableGroups, &recent, nil))

	source := &fakeRosterSource{rows: []RosterRow{{ExternalID: 1, Username: "ann"}}}
	r := newTestReconciler(database, source)

	ResyncStaleGroups(context.Background(), r, time.Hour)

	// only the stale group was fetched and synced
	assert.Equal(t, 1, source.calls)
	assert.ElementsMatch(t, []int64{ann.ID}, activeMemberIds(t, database, stale))

	ls, err := database.GetLastSync(stale.ID, models.TableGroups)
	require.NoError(t, err)
	assert.NotNil(t, ls.SyncIncoming)

	// once synced it drops out of the next pass
	ResyncStaleGroups(context.Background(), r, time.Hour)
	assert.Equal(t, 1, source.calls)
}

func TestResyncStaleGroupsSkipsFailures(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	course := seedCourse(t, database, "inf100")
	ann := seedUser(t, database, course, "ann", 1, models.RoleStudent)

	broken := seedAutoGroup(t, database, course, "broken", "canvas_groups(group_id=1)")
	working := seedAutoGroup(t, database, course, "working", "gitlab(100)")

	source := &fakeRosterSource{rows: []RosterRow{{ExternalID: 1, Username: "ann"}}}
	r := newTestReconciler(database, source)
	// no canvas adapter registered: the broken group fails with an adapter error

	ResyncStaleGroups(context.Background(), r, time.Hour)

	assert.Empty(t, activeMemberIds(t, database, broken))
	assert.ElementsMatch(t, []int64{ann.ID}, activeMemberIds(t, database, working))
}
