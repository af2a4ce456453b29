package models

import (
	"database/sql"
	"reflect"
	"time"

	"github.com/spf13/cast"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type LogType string

const (
	LogInsert LogType = "INSERT"
	LogUpdate LogType = "UPDATE"
	LogDelete LogType = "DELETE"
)

// AuditLog is the append-only mutation log. Rows are produced by the
// callbacks below, never written by application code directly.
type AuditLog struct {
	ID        int64     `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"autoCreateTime"`
	TableName string
	RowID     int64
	Type      LogType
	OldData   datatypes.JSONMap
	NewData   datatypes.JSONMap
}

// loggedTables is the fixed allow-list of audited tables. The bookkeeping
// tables (ids, last_syncs, audit_logs itself) are deliberately absent.
var loggedTables = map[string]bool{
	"users":       true,
	"accounts":    true,
	"courses":     true,
	"enrollments": true,
	"memberships": true,
	"groups":      true,
}

// RegisterAuditCallbacks hooks the audit trail into the write path of every
// logged table. This is the equivalent of database triggers: it sits at the
// persistence boundary, so the reconciler, manual admin edits and bulk
// imports all leave log entries without calling anything themselves.
//
// Writes to logged tables must go through a model value carrying the primary
// key (the store only ever writes single rows that way); statements without
// a resolvable row id are not logged.
func RegisterAuditCallbacks(gdb *gorm.DB) error {
	if err := gdb.Callback().Create().After("gorm:create").Register("audit:after_create", auditAfterCreate); err != nil {
		return err
	}
	if err := gdb.Callback().Update().Before("gorm:update").Register("audit:before_update", auditBeforeUpdate); err != nil {
		return err
	}
	if err := gdb.Callback().Update().After("gorm:update").Register("audit:after_update", auditAfterUpdate); err != nil {
		return err
	}
	if err := gdb.Callback().Delete().Before("gorm:delete").Register("audit:before_delete", auditBeforeDelete); err != nil {
		return err
	}
	if err := gdb.Callback().Delete().After("gorm:delete").Register("audit:after_delete", auditAfterDelete); err != nil {
		return err
	}
	return nil
}

func auditAfterCreate(tx *gorm.DB) {
	if tx.Error != nil || tx.RowsAffected == 0 || !loggedTables[tx.Statement.Table] {
		return
	}
	rowId, ok := auditRowId(tx)
	if !ok {
		return
	}
	writeAuditRow(tx, LogInsert, rowId, nil, rowSnapshot(tx, rowId))
}

func auditBeforeUpdate(tx *gorm.DB) {
	if tx.Error != nil || !loggedTables[tx.Statement.Table] {
		return
	}
	rowId, ok := auditRowId(tx)
	if !ok {
		return
	}
	if old := rowSnapshot(tx, rowId); old != nil {
		tx.InstanceSet("audit:old_data", old)
	}
}

func auditAfterUpdate(tx *gorm.DB) {
	if tx.Error != nil || tx.RowsAffected == 0 || !loggedTables[tx.Statement.Table] {
		return
	}
	rowId, ok := auditRowId(tx)
	if !ok {
		return
	}
	var oldData map[string]any
	if v, ok := tx.InstanceGet("audit:old_data"); ok {
		oldData, _ = v.(map[string]any)
	}
	writeAuditRow(tx, LogUpdate, rowId, oldData, rowSnapshot(tx, rowId))
}

func auditBeforeDelete(tx *gorm.DB) {
	if tx.Error != nil || !loggedTables[tx.Statement.Table] {
		return
	}
	rowId, ok := auditRowId(tx)
	if !ok {
		return
	}
	if old := rowSnapshot(tx, rowId); old != nil {
		tx.InstanceSet("audit:old_data", old)
	}
}

func auditAfterDelete(tx *gorm.DB) {
	if tx.Error != nil || tx.RowsAffected == 0 || !loggedTables[tx.Statement.Table] {
		return
	}
	rowId, ok := auditRowId(tx)
	if !ok {
		return
	}
	var oldData map[string]any
	if v, ok := tx.InstanceGet("audit:old_data"); ok {
		oldData, _ = v.(map[string]any)
	}
	writeAuditRow(tx, LogDelete, rowId, oldData, nil)
}

// auditRowId pulls the primary key out of the statement's model value.
func auditRowId(tx *gorm.DB) (int64, bool) {
	stmt := tx.Statement
	if stmt.Schema == nil || stmt.Schema.PrioritizedPrimaryField == nil {
		return 0, false
	}
	rv := stmt.ReflectValue
	if rv.Kind() != reflect.Struct {
		return 0, false
	}
	val, zero := stmt.Schema.PrioritizedPrimaryField.ValueOf(stmt.Context, rv)
	if zero {
		return 0, false
	}
	return cast.ToInt64(val), true
}

// rowSnapshot reads the row's full column state inside the current
// transaction, so uncommitted changes are visible.
func rowSnapshot(tx *gorm.DB, rowId int64) map[string]any {
	row := map[string]any{}
	err := tx.Session(&gorm.Session{NewDB: true}).
		Table(tx.Statement.Table).
		Where("id = ?", rowId).
		Take(&row).Error
	if err != nil {
		return nil
	}
	return row
}

func writeAuditRow(tx *gorm.DB, logType LogType, rowId int64, oldData, newData map[string]any) {
	entry := AuditLog{
		TableName: tx.Statement.Table,
		RowID:     rowId,
		Type:      logType,
		OldData:   oldData,
		NewData:   newData,
	}
	if err := tx.Session(&gorm.Session{NewDB: true}).Create(&entry).Error; err != nil {
		tx.AddError(err)
	}
}

// AuditWatermark returns the highest audit log id, to be taken immediately
// before a sync; AuditSince isolates that sync's entries afterwards.
func (db *Database) AuditWatermark() (int64, error) {
	var max sql.NullInt64
	err := db.GormDB.Model(&AuditLog{}).Select("MAX(id)").Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func (db *Database) AuditSince(watermark int64, tables ...string) ([]AuditLog, error) {
	q := db.GormDB.Where("id > ?", watermark)
	if len(tables) > 0 {
		q = q.Where("table_name IN ?", tables)
	}
	var entries []AuditLog
	if err := q.Order("id").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (db *Database) AuditForRow(table string, rowId int64) ([]AuditLog, error) {
	var entries []AuditLog
	err := db.GormDB.Where("table_name = ? AND row_id = ?", table, rowId).Order("id").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
