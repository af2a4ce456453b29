package models

import (
	"time"

	"github.com/spf13/cast"
	"gorm.io/datatypes"
)

// GroupPolicy controls how new members may join a group.
type GroupPolicy string

const (
	// GroupPolicyRestricted allows members of the parent group to join.
	GroupPolicyRestricted GroupPolicy = "RESTRICTED"
	// GroupPolicyOpen allows any enrolled user to join or leave freely.
	GroupPolicyOpen GroupPolicy = "OPEN"
	// GroupPolicyAuto marks membership as owned by the synchronizer; manual
	// edits are expected to be overwritten on the next sync.
	GroupPolicyAuto GroupPolicy = "AUTO"
	// GroupPolicyClosed means only a privileged actor may add or remove members.
	GroupPolicyClosed GroupPolicy = "CLOSED"
)

// MemberOrigin records how one particular membership was established. It is
// deliberately a separate type from GroupPolicy even though the string values
// overlap: the group's policy says how members may join, the membership's
// origin says how this member actually got in.
type MemberOrigin string

const (
	MemberOriginRestricted MemberOrigin = "RESTRICTED"
	MemberOriginOpen       MemberOrigin = "OPEN"
	MemberOriginAuto       MemberOrigin = "AUTO"
	MemberOriginClosed     MemberOrigin = "CLOSED"
	// MemberOriginRemoved is a tombstone: the row is kept but the user is no
	// longer a member. Re-adding the user overwrites it in place.
	MemberOriginRemoved MemberOrigin = "REMOVED"
)

const (
	GroupKindSection = "section"
	GroupKindTeam    = "team"
	GroupKindGroup   = "group"
)

type Group struct {
	ID         int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Kind       string
	CourseID   int64 `gorm:"uniqueIndex:idx_group_course_slug"`
	ParentID   *int64
	ExternalID string
	Name       string
	Slug       string      `gorm:"uniqueIndex:idx_group_course_slug"`
	JoinModel  GroupPolicy `gorm:"default:RESTRICTED"`
	// JoinSource names the external roster that feeds this group, e.g.
	// "gitlab(33690, students_only=true)". Validated on save, see joinsource.go.
	JoinSource string
	JSONData   datatypes.JSONMap
}

// UnmappedUsers lists the external identities from the last sync that could
// not be resolved to internal users; kept here so operators can link them up.
func (g *Group) UnmappedUsers() []string {
	return cast.ToStringSlice(g.JSONData["unmapped_users"])
}

func (g *Group) SetUnmappedUsers(usernames []string) {
	if g.JSONData == nil {
		g.JSONData = datatypes.JSONMap{}
	}
	if len(usernames) == 0 {
		delete(g.JSONData, "unmapped_users")
		return
	}
	vals := make([]any, len(usernames))
	for i, u := range usernames {
		vals[i] = u
	}
	g.JSONData["unmapped_users"] = vals
}

type Membership struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    int64 `gorm:"uniqueIndex:idx_membership_user_group"`
	GroupID   int64 `gorm:"uniqueIndex:idx_membership_user_group"`
	Role      string
	JoinModel MemberOrigin `gorm:"default:RESTRICTED"`
}

type Enrollment struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    int64 `gorm:"uniqueIndex:idx_enrollment_user_course"`
	CourseID  int64 `gorm:"uniqueIndex:idx_enrollment_user_course"`
	Role      string
}

const (
	RoleStudent = "student"
	RoleTA      = "ta"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// roleLabels normalizes provider-specific role labels. Labels that are not
// listed pass through unchanged so new provider roles don't break a sync.
var roleLabels = map[string]string{
	"StudentEnrollment":     RoleStudent,
	"StudentViewEnrollment": RoleStudent,
	"TaEnrollment":          RoleTA,
	"TeacherEnrollment":     RoleTeacher,
	"DesignerEnrollment":    RoleTeacher,
}

func RoleForLabel(label string) string {
	if role, ok := roleLabels[label]; ok {
		return role
	}
	return label
}

// PrivilegedRoles are the enrollment roles allowed to manage closed groups.
var PrivilegedRoles = []string{RoleTA, RoleTeacher, RoleAdmin}

func IsPrivilegedRole(role string) bool {
	for _, r := range PrivilegedRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (db *Database) GetGroupBySlug(courseId int64, slug string) (*Group, error) {
	var group Group
	err := db.GormDB.Where("course_id = ? AND slug = ?", courseId, slug).First(&group).Error
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &group, nil
}

func (db *Database) GetGroupById(courseId int64, id int64) (*Group, error) {
	var group Group
	err := db.GormDB.Where("course_id = ? AND id = ?", courseId, id).First(&group).Error
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &group, nil
}

func (db *Database) GetCourseGroups(courseId int64) ([]Group, error) {
	var groups []Group
	err := db.GormDB.Where("course_id = ?", courseId).Order("name").Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (db *Database) GetEnrollment(userId int64, courseId int64) (*Enrollment, error) {
	var en Enrollment
	err := db.GormDB.Where("user_id = ? AND course_id = ?", userId, courseId).First(&en).Error
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &en, nil
}

func (db *Database) GetCourseEnrollments(courseId int64) ([]Enrollment, error) {
	var ens []Enrollment
	if err := db.GormDB.Where("course_id = ?", courseId).Find(&ens).Error; err != nil {
		return nil, err
	}
	return ens, nil
}

// GetActiveMemberships returns the group's current members, excluding
// tombstoned rows.
func (db *Database) GetActiveMemberships(groupId int64) ([]Membership, error) {
	var ms []Membership
	err := db.GormDB.Where("group_id = ? AND join_model <> ?", groupId, MemberOriginRemoved).Find(&ms).Error
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (db *Database) GetMembership(groupId int64, userId int64) (*Membership, error) {
	var m Membership
	err := db.GormDB.Where("group_id = ? AND user_id = ?", groupId, userId).First(&m).Error
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &m, nil
}
