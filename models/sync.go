package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Table type tags used for LastSync bookkeeping and the id allocator.
const (
	TableUsers       = "users"
	TableAccounts    = "accounts"
	TableCourses     = "courses"
	TableGroups      = "groups"
	TableMemberships = "memberships"
	TableEnrollments = "enrollments"
)

// LastSync records when an object was last synced in from, or out to, an
// external system. One row per (object id, object type).
type LastSync struct {
	ID           int64  `gorm:"primaryKey"`
	ObjID        int64  `gorm:"uniqueIndex:idx_last_sync_obj"`
	ObjType      string `gorm:"uniqueIndex:idx_last_sync_obj"`
	SyncIncoming *time.Time
	SyncOutgoing *time.Time
}

// SetSync upserts the sync timestamps for one object. Only the timestamps
// actually supplied are written; the insert-or-update runs as a single
// on-conflict statement so concurrent syncs of the same object can't
// duplicate rows or lose updates.
func SetSync(tx *gorm.DB, objId int64, objType string, incoming *time.Time, outgoing *time.Time) error {
	if incoming == nil && outgoing == nil {
		return nil
	}
	row := LastSync{ObjID: objId, ObjType: objType, SyncIncoming: incoming, SyncOutgoing: outgoing}
	cols := []string{}
	if incoming != nil {
		cols = append(cols, "sync_incoming")
	}
	if outgoing != nil {
		cols = append(cols, "sync_outgoing")
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "obj_id"}, {Name: "obj_type"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&row).Error
	return wrapStoreError(err)
}

func (db *Database) GetLastSync(objId int64, objType string) (*LastSync, error) {
	var ls LastSync
	err := db.GormDB.Where("obj_id = ? AND obj_type = ?", objId, objType).First(&ls).Error
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &ls, nil
}

// StaleSyncedGroups returns groups with a join source whose last inbound
// sync is older than the cutoff (or that have never been synced). Feeds the
// periodic re-sync job.
func (db *Database) StaleSyncedGroups(olderThan time.Time) ([]Group, error) {
	var groups []Group
	err := db.GormDB.
		Joins("LEFT JOIN last_syncs ON last_syncs.obj_id = groups.id AND last_syncs.obj_type = ?", TableGroups).
		Where("groups.join_source <> ''").
		Where("last_syncs.sync_incoming IS NULL OR last_syncs.sync_incoming < ?", olderThan).
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}
