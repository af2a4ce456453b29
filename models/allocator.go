package models

import (
	"gorm.io/gorm"
)

// Id is the allocator table. Every row exists only to hand out one integer
// that is unique across all entity tables, so ids from different tables are
// comparable and orderable. The type tag records which table the id went to.
type Id struct {
	ID   int64 `gorm:"primaryKey"`
	Type string
}

func (Id) TableName() string { return "ids" }

// NewId allocates a globally unique id inside the current transaction. The
// insert runs in a nested transaction (a savepoint when tx is already inside
// one), so uniqueness comes from the store's primary key allocation and a
// rollback of the enclosing transaction discards the id along with
// everything else. Gaps are fine; this is not a dense sequence.
func NewId(tx *gorm.DB, typeTag string) (int64, error) {
	row := Id{Type: typeTag}
	err := tx.Session(&gorm.Session{NewDB: true}).Transaction(func(stx *gorm.DB) error {
		return stx.Create(&row).Error
	})
	if err != nil {
		return 0, wrapStoreError(err)
	}
	return row.ID, nil
}

// Entities get their id from the allocator when none was supplied, so that
// rows can reference each other before either is committed.

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID != 0 {
		return nil
	}
	id, err := NewId(tx, "users")
	u.ID = id
	return err
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID != 0 {
		return nil
	}
	id, err := NewId(tx, "accounts")
	a.ID = id
	return err
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID != 0 {
		return nil
	}
	id, err := NewId(tx, "courses")
	c.ID = id
	return err
}

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID != 0 {
		return nil
	}
	id, err := NewId(tx, "groups")
	g.ID = id
	return err
}

func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.ID != 0 {
		return nil
	}
	id, err := NewId(tx, "memberships")
	m.ID = id
	return err
}

func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID != 0 {
		return nil
	}
	id, err := NewId(tx, "enrollments")
	e.ID = id
	return err
}

func (a *Assignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID != 0 {
		return nil
	}
	id, err := NewId(tx, "assignments")
	a.ID = id
	return err
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID != 0 {
		return nil
	}
	id, err := NewId(tx, "projects")
	p.ID = id
	return err
}
