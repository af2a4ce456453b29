package models

import (
	"time"

	"gorm.io/datatypes"
)

// AssignmentModel says how student work for an assignment is laid out on the
// source host.
type AssignmentModel string

const (
	GitlabStudentFork    AssignmentModel = "GITLAB_STUDENT_FORK"
	GitlabGroupFork      AssignmentModel = "GITLAB_GROUP_FORK"
	GitlabGroupProject   AssignmentModel = "GITLAB_GROUP_PROJECT"
	GitlabStudentProject AssignmentModel = "GITLAB_STUDENT_PROJECT"
)

const (
	OwnerKindCourse = "course"
	OwnerKindUser   = "user"
	OwnerKindGroup  = "group"
)

type Assignment struct {
	ID              int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Name            string
	Slug            string `gorm:"uniqueIndex:idx_assignment_course_slug"`
	Description     string
	Category        string
	CourseID        int64 `gorm:"uniqueIndex:idx_assignment_course_slug"`
	AssignmentModel AssignmentModel
	// GitlabID is the source project (with solution and all tests),
	// GitlabRootID the project forked to students, GitlabTestID the project
	// with teacher-only tests.
	GitlabID     *int64
	GitlabRootID *int64
	GitlabTestID *int64
	CanvasID     string
	ReleaseDate  *time.Time
	DueDate      *time.Time
	GradeByDate  *time.Time
	JSONData     datatypes.JSONMap
}

// Project is a student's or group's working copy of an assignment on the
// source host. The owner is a user, group or course id; OwnerKind says which.
type Project struct {
	ID            int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Name          string
	Slug          string `gorm:"uniqueIndex:idx_project_ns_slug"`
	NamespaceSlug string `gorm:"uniqueIndex:idx_project_ns_slug"`
	Description   string
	CourseID      int64
	OwnerID       int64
	OwnerKind     string
	GitlabID      *int64
	// SubmittedRef identifies the actual submission: a tag, branch or commit id.
	SubmittedRef string
	JSONData     datatypes.JSONMap
}

func (db *Database) GetCourseAssignments(courseId int64) ([]Assignment, error) {
	var as []Assignment
	if err := db.GormDB.Where("course_id = ?", courseId).Order("slug").Find(&as).Error; err != nil {
		return nil, err
	}
	return as, nil
}

func (db *Database) GetProjectByGitlabId(gitlabId int64) (*Project, error) {
	var p Project
	if err := db.GormDB.Where("gitlab_id = ?", gitlabId).First(&p).Error; err != nil {
		return nil, wrapStoreError(err)
	}
	return &p, nil
}

func (db *Database) GetOwnerProjects(ownerKind string, ownerId int64) ([]Project, error) {
	var ps []Project
	err := db.GormDB.Where("owner_kind = ? AND owner_id = ?", ownerKind, ownerId).Find(&ps).Error
	if err != nil {
		return nil, err
	}
	return ps, nil
}
