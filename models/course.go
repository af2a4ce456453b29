package models

import (
	"time"

	"github.com/spf13/cast"
	"gorm.io/datatypes"
)

type Course struct {
	ID         int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExternalID int64  `gorm:"uniqueIndex:idx_course_external"`
	Name       string
	Slug       string `gorm:"uniqueIndex:idx_course_slug"`
	ExpiryDate *time.Time
	// JSONData holds provider-specific configuration that has no dedicated
	// column (gitlab namespace paths, SIS ids, time zone). Use the typed
	// accessors instead of poking at the map.
	JSONData datatypes.JSONMap
}

func (c *Course) IsExpired() bool {
	return c.ExpiryDate != nil && c.ExpiryDate.Before(time.Now())
}

// GitlabPath is the namespace that holds the course's shared gitlab projects.
func (c *Course) GitlabPath() string {
	return cast.ToString(c.JSONData["gitlab_path"])
}

// GitlabStudentPath is the namespace that holds per-student projects.
func (c *Course) GitlabStudentPath() string {
	return cast.ToString(c.JSONData["gitlab_student_path"])
}

func (c *Course) CourseCode() string {
	return cast.ToString(c.JSONData["course_code"])
}

func (c *Course) SISCourseID() string {
	return cast.ToString(c.JSONData["sis_course_id"])
}

func (db *Database) GetCourseById(id int64) (*Course, error) {
	var course Course
	if err := db.GormDB.Where("id = ?", id).First(&course).Error; err != nil {
		return nil, wrapStoreError(err)
	}
	return &course, nil
}

func (db *Database) GetCourseByExternalId(externalId int64) (*Course, error) {
	var course Course
	if err := db.GormDB.Where("external_id = ?", externalId).First(&course).Error; err != nil {
		return nil, wrapStoreError(err)
	}
	return &course, nil
}

func (db *Database) GetCourseBySlug(slug string) (*Course, error) {
	var course Course
	if err := db.GormDB.Where("slug = ?", slug).First(&course).Error; err != nil {
		return nil, wrapStoreError(err)
	}
	return &course, nil
}
