package models

import (
	"gorm.io/gorm"
)

// GetOrDefine is the find-or-create primitive every reconciler builds on.
// It looks up a row matching the non-zero fields of key; if one exists it is
// returned untouched, even when defaults differ from the stored values. If
// none exists, a row is built from key plus defaults, gets an allocator id
// via the BeforeCreate hooks, and is inserted in the current transaction.
// The second return value reports whether a row was created.
//
// Concurrent callers racing on the same natural key are not handled here; a
// duplicate insert surfaces as ErrConstraintViolation when the enclosing
// transaction commits.
func GetOrDefine[T any](tx *gorm.DB, key T, defaults T) (*T, bool, error) {
	obj := new(T)
	res := tx.Where(key).Attrs(defaults).FirstOrCreate(obj)
	if res.Error != nil {
		return nil, false, wrapStoreError(res.Error)
	}
	return obj, res.RowsAffected > 0, nil
}

// UpdateFields writes only the supplied columns, and only when there is
// something to write. Callers compare against current values first; that is
// what keeps a no-op sync from producing vacuous audit entries.
func UpdateFields(tx *gorm.DB, model any, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	if err := tx.Model(model).Updates(changes).Error; err != nil {
		return wrapStoreError(err)
	}
	return nil
}

// Transaction runs fn in one store transaction; this is the unit of
// atomicity for a full reconciliation pass.
func (db *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return db.GormDB.Transaction(fn)
}
