package models

import (
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSuite(tb testing.TB) (func(tb testing.TB), *Database) {
	log.Println("setup suite")

	// database file name
	dbName := "database_storage_test.db"

	// remove old database
	e := os.Remove(dbName)
	if e != nil {
		if !strings.Contains(e.Error(), "no such file or directory") {
			log.Fatal(e)
		}
	}

	// open and create a new database
	gdb, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal(err)
	}

	database, err := NewDatabase(gdb)
	if err != nil {
		log.Fatal(err)
	}
	DB = database

	// Return a function to teardown the test
	return func(tb testing.TB) {
		log.Println("teardown suite")
		err = os.Remove(dbName)
		if err != nil {
			log.Fatal(err)
		}
	}, database
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
}

func TestNewIdIsUniqueAcrossTables(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	user := User{Key: "canvas#1", Lastname: "Olsen"}
	require.NoError(t, database.GormDB.Create(&user).Error)

	course := Course{ExternalID: 100, Slug: "inf100", Name: "Intro"}
	require.NoError(t, database.GormDB.Create(&course).Error)

	group := Group{CourseID: course.ID, Slug: "all", Name: "All"}
	require.NoError(t, database.GormDB.Create(&group).Error)

	seen := map[int64]bool{user.ID: true}
	assert.NotZero(t, user.ID)
	assert.False(t, seen[course.ID])
	seen[course.ID] = true
	assert.False(t, seen[group.ID])
}

func TestNewIdInsideTransactionRollsBack(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	var allocated int64
	err := database.GormDB.Transaction(func(tx *gorm.DB) error {
		id, err := NewId(tx, "users")
		require.NoError(t, err)
		allocated = id
		return gorm.ErrInvalidData // force rollback
	})
	assert.Error(t, err)
	assert.NotZero(t, allocated)

	var count int64
	require.NoError(t, database.GormDB.Model(&Id{}).Where("id = ?", allocated).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestGetOrDefineKeepsExistingValues(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	first, created, err := GetOrDefine(database.GormDB,
		User{Key: "canvas#42"},
		User{Lastname: "Hansen", Email: "hansen@example.com"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)
	assert.Equal(t, "Hansen", first.Lastname)

	// A second lookup with different defaults must not overwrite anything.
	second, created, err := GetOrDefine(database.GormDB,
		User{Key: "canvas#42"},
		User{Lastname: "Somebody Else", Email: "other@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Hansen", second.Lastname)
	assert.Equal(t, "hansen@example.com", second.Email)
}

func TestAccountUniquePerProvider(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	user := User{Key: "canvas#1"}
	require.NoError(t, database.GormDB.Create(&user).Error)
	other := User{Key: "canvas#2"}
	require.NoError(t, database.GormDB.Create(&other).Error)

	ext := int64(777)
	require.NoError(t, database.GormDB.Create(&Account{
		UserID: user.ID, ProviderName: ProviderCanvas, ExternalID: &ext, Username: "ann",
	}).Error)

	// same username on a different provider is fine
	require.NoError(t, database.GormDB.Create(&Account{
		UserID: user.ID, ProviderName: ProviderGitlab, Username: "ann",
	}).Error)

	// same provider and username collides
	err := database.GormDB.Create(&Account{
		UserID: other.ID, ProviderName: ProviderCanvas, Username: "ann",
	}).Error
	assert.Error(t, err)

	found, err := database.GetUserByAccount(ProviderCanvas, 777)
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	found, err = database.GetUserByUsername(ProviderGitlab, "ann")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = database.GetUserByAccount(ProviderGitlab, 777)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	user := User{Key: "canvas#9", Lastname: "Berg", Email: "berg@example.com"}
	require.NoError(t, database.GormDB.Create(&user).Error)

	require.NoError(t, UpdateFields(database.GormDB, &user, map[string]any{"email": "berg@new.example.com"}))

	require.NoError(t, database.GormDB.Delete(&user).Error)

	entries, err := database.AuditForRow("users", user.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, LogInsert, entries[0].Type)
	assert.Nil(t, entries[0].OldData)
	assert.Equal(t, "berg@example.com", entries[0].NewData["email"])

	assert.Equal(t, LogUpdate, entries[1].Type)
	assert.Equal(t, "berg@example.com", entries[1].OldData["email"])
	assert.Equal(t, "berg@new.example.com", entries[1].NewData["email"])

	assert.Equal(t, LogDelete, entries[2].Type)
	assert.Equal(t, "berg@new.example.com", entries[2].OldData["email"])
	assert.Nil(t, entries[2].NewData)
}

func TestAuditNoEntryForVacuousUpdate(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	user := User{Key: "canvas#5", Lastname: "Nilsen"}
	require.NoError(t, database.GormDB.Create(&user).Error)

	watermark, err := database.AuditWatermark()
	require.NoError(t, err)

	// an empty change set writes nothing and leaves no trace
	require.NoError(t, UpdateFields(database.GormDB, &user, map[string]any{}))

	entries, err := database.AuditSince(watermark)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAuditWatermarkIsolatesOneSync(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	before := User{Key: "canvas#1"}
	require.NoError(t, database.GormDB.Create(&before).Error)

	watermark, err := database.AuditWatermark()
	require.NoError(t, err)

	after := User{Key: "canvas#2"}
	require.NoError(t, database.GormDB.Create(&after).Error)

	entries, err := database.AuditSince(watermark, "users")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, after.ID, entries[0].RowID)
}

func TestSetSyncUpsert(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	t1 := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	outgoing := t1.Add(30 * time.Minute)

	require.NoError(t, SetSync(database.GormDB, 42, TableGroups, &t1, nil))
	require.NoError(t, SetSync(database.GormDB, 42, TableGroups, nil, &outgoing))
	require.NoError(t, SetSync(database.GormDB, 42, TableGroups, &t2, nil))

	var count int64
	require.NoError(t, database.GormDB.Model(&LastSync{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	ls, err := database.GetLastSync(42, TableGroups)
	require.NoError(t, err)
	require.NotNil(t, ls.SyncIncoming)
	require.NotNil(t, ls.SyncOutgoing)
	assert.True(t, ls.SyncIncoming.Equal(t2))
	assert.True(t, ls.SyncOutgoing.Equal(outgoing))

	// nothing supplied, nothing written
	require.NoError(t, SetSync(database.GormDB, 42, TableGroups, nil, nil))
	ls2, err := database.GetLastSync(42, TableGroups)
	require.NoError(t, err)
	assert.True(t, ls2.SyncIncoming.Equal(t2))
}

func TestStaleSyncedGroups(t *testing.T) {
	teardownSuite, database := setupSuite(t)
	defer teardownSuite(t)

	course := Course{ExternalID: 1, Slug: "inf100", Name: "Intro"}
	require.NoError(t, database.GormDB.Create(&course).Error)

	fresh := Group{CourseID: course.ID, Slug: "fresh", JoinSource: "gitlab(100)"}
	require.NoError(t, database.GormDB.Create(&fresh).Error)
	stale := Group{CourseID: course.ID, Slug: "stale", JoinSource: "gitlab(200)"}
	require.NoError(t, database.GormDB.Create(&stale).Error)
	never := Group{CourseID: course.ID, Slug: "never", JoinSource: "gitlab(300)"}
	require.NoError(t, database.GormDB.Create(&never).Error)
	manual := Group{CourseID: course.ID, Slug: "manual"}
	require.NoError(t, database.GormDB.Create(&manual).Error)

	now := time.Now().UTC()
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-3 * time.Hour)
	require.NoError(t, SetSync(database.GormDB, fresh.ID, TableGroups, &recent, nil))
	require.NoError(t, SetSync(database.GormDB, stale.ID, TableGroups, &old, nil))

	groups, err := database.StaleSyncedGroups(now.Add(-2 * time.Hour))
	require.NoError(t, err)

	slugs := make([]string, len(groups))
	for i, g := range groups {
		slugs[i] = g.Slug
	}
	assert.ElementsMatch(t, []string{"stale", "never"}, slugs)
}
