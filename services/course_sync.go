package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rosterhub/rosterhub/models"
)

// LMSUserRow is one enrolled user as reported by the LMS course roster.
type LMSUserRow struct {
	ExternalID   int64
	LoginID      string
	SortableName string // "Lastname, Firstname"
	Email        string
	AvatarURL    string
	Locale       string
	RoleLabel    string
	// Optional source-host identity delivered alongside the LMS record,
	// e.g. from a CSV import.
	GitUsername string
	GitID       int64
}

// LMSStudentRef is a member of an LMS section or group.
type LMSStudentRef struct {
	ExternalID int64
	Name       string
}

// LMSSection is a section with its enrolled students. Sections without an
// SIS id are ad-hoc and not synced.
type LMSSection struct {
	ExternalID   string
	SISSectionID string
	Name         string
	Students     []LMSStudentRef
}

// LMSCourse is the course header from the LMS.
type LMSCourse struct {
	ExternalID  int64
	Name        string
	SISCourseID string
	CourseCode  string
	EndAt       *time.Time
}

// CreateCourseFromLMS gets or defines the internal course for an LMS course.
func (r *Reconciler) CreateCourseFromLMS(ctx context.Context, lms LMSCourse) (*models.Course, error) {
	courseSlug := lms.SISCourseID
	if courseSlug == "" {
		courseSlug = slug.Make(lms.Name)
	}
	var course *models.Course
	err := r.DB.GormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, created, err := models.GetOrDefine(tx,
			models.Course{Slug: courseSlug},
			models.Course{Name: lms.Name, ExternalID: lms.ExternalID, ExpiryDate: lms.EndAt})
		if err != nil {
			return err
		}
		if created {
			changes := map[string]any{}
			c.JSONData = datatypes.JSONMap{}
			if lms.SISCourseID != "" {
				c.JSONData["sis_course_id"] = lms.SISCourseID
			}
			if lms.CourseCode != "" {
				c.JSONData["course_code"] = lms.CourseCode
			}
			if len(c.JSONData) > 0 {
				changes["json_data"] = c.JSONData
			}
			if err := models.UpdateFields(tx, c, changes); err != nil {
				return err
			}
		}
		course = c
		return nil
	})
	return course, err
}

// SyncCourseUsers upserts users, LMS accounts and enrollments from a course
// roster. Each row commits on its own, like the interactive sync it backs:
// one bad row doesn't throw away the rest of a long roster. Only changed
// fields are written, so re-running a sync with an unchanged roster leaves
// no audit trace.
func (r *Reconciler) SyncCourseUsers(ctx context.Context, course *models.Course, rows []LMSUserRow) (int, error) {
	syncTime := time.Now().UTC()
	synced := 0
	for _, row := range rows {
		err := r.DB.GormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return syncCourseUser(tx, course, row, &syncTime)
		})
		if err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

func syncCourseUser(tx *gorm.DB, course *models.Course, row LMSUserRow, syncTime *time.Time) error {
	lastname, firstname := splitSortableName(row.SortableName)

	user, _, err := models.GetOrDefine(tx,
		models.User{Key: models.UserKey(models.ProviderCanvas, row.ExternalID)},
		models.User{Firstname: firstname, Lastname: lastname, Email: row.Email, Locale: normalizeLocale(row.Locale)})
	if err != nil {
		return err
	}

	externalId := row.ExternalID
	account, _, err := models.GetOrDefine(tx,
		models.Account{ProviderName: models.ProviderCanvas, Username: row.LoginID},
		models.Account{UserID: user.ID, ExternalID: &externalId, Email: row.Email, Fullname: row.SortableName, AvatarURL: row.AvatarURL})
	if err != nil {
		return err
	}

	// Drift updates: names, email, avatar and locale follow the roster.
	userChanges := map[string]any{}
	accountChanges := map[string]any{}
	if account.Fullname != row.SortableName {
		userChanges["firstname"] = firstname
		userChanges["lastname"] = lastname
		accountChanges["fullname"] = row.SortableName
	}
	if row.Email != "" && account.Email != row.Email {
		userChanges["email"] = row.Email
		accountChanges["email"] = row.Email
	}
	if row.AvatarURL != "" && account.AvatarURL != row.AvatarURL {
		accountChanges["avatar_url"] = row.AvatarURL
	}
	if locale := normalizeLocale(row.Locale); locale != "" && user.Locale != locale {
		userChanges["locale"] = locale
	}
	if err := models.UpdateFields(tx, user, userChanges); err != nil {
		return err
	}
	if err := models.UpdateFields(tx, account, accountChanges); err != nil {
		return err
	}

	role := models.RoleForLabel(row.RoleLabel)
	enrollment, _, err := models.GetOrDefine(tx,
		models.Enrollment{UserID: user.ID, CourseID: course.ID},
		models.Enrollment{Role: role})
	if err != nil {
		return err
	}
	if enrollment.Role != role {
		if err := models.UpdateFields(tx, enrollment, map[string]any{"role": role}); err != nil {
			return err
		}
	}

	if row.GitUsername != "" && row.GitID != 0 {
		if _, err := DefineGitAccount(tx, user, row.GitUsername, row.GitID, row.SortableName, syncTime); err != nil {
			return err
		}
	}

	if syncTime != nil {
		return models.SetSync(tx, account.ID, models.TableAccounts, syncTime, nil)
	}
	return nil
}

// DefineGitAccount gets or defines the user's source-host account. Existing
// accounts keep their fields; this is a find-or-create, not an overwrite.
func DefineGitAccount(tx *gorm.DB, user *models.User, username string, externalId int64, fullname string, syncTime *time.Time) (*models.Account, error) {
	if fullname == "" {
		fullname = user.Firstname + " " + user.Lastname
	}
	account, _, err := models.GetOrDefine(tx,
		models.Account{ProviderName: models.ProviderGitlab, Username: username},
		models.Account{UserID: user.ID, ExternalID: &externalId, Fullname: fullname})
	if err != nil {
		return nil, err
	}
	if syncTime != nil {
		if err := models.SetSync(tx, account.ID, models.TableAccounts, syncTime, nil); err != nil {
			return nil, err
		}
	}
	return account, nil
}

// SyncCourseSections mirrors LMS sections into auto-managed groups and
// reconciles each section's student list the same way a roster sync does:
// present students are upserted, absent auto-managed members tombstoned.
func (r *Reconciler) SyncCourseSections(ctx context.Context, course *models.Course, sections []LMSSection) error {
	resolver := r.Resolvers[models.JoinSourceCanvasSections]
	for _, section := range sections {
		if section.SISSectionID == "" {
			continue
		}
		group, err := r.syncSectionGroup(ctx, course, section)
		if err != nil {
			return err
		}
		rows := make([]RosterRow, len(section.Students))
		for i, s := range section.Students {
			rows[i] = RosterRow{ExternalID: s.ExternalID, DisplayName: s.Name, RoleLabel: models.RoleStudent}
		}
		if _, err := r.ReconcileMembers(ctx, course, group, rows, resolver, true); err != nil {
			var unresolved *models.UnresolvedIdentityError
			if !errors.As(err, &unresolved) {
				return err
			}
			slog.Warn("section has unmapped students", "section", section.Name, "unmapped", unresolved.Unmapped)
		}
	}
	return nil
}

func (r *Reconciler) syncSectionGroup(ctx context.Context, course *models.Course, section LMSSection) (*models.Group, error) {
	name := sectionGroupName(section.Name)
	var group *models.Group
	err := r.DB.GormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, _, err := models.GetOrDefine(tx,
			models.Group{CourseID: course.ID, ExternalID: section.ExternalID},
			models.Group{Name: name, Slug: slug.Make(name), JoinModel: models.GroupPolicyAuto, Kind: models.GroupKindSection})
		if err != nil {
			return err
		}
		changes := map[string]any{}
		if g.Name != name {
			changes["name"] = name
			changes["slug"] = slug.Make(name)
		}
		if err := models.UpdateFields(tx, g, changes); err != nil {
			return err
		}
		group = g
		return nil
	})
	return group, err
}

// sectionGroupName strips the course prefix the LMS sticks on section names,
// keeping just the trailing "... N" part when one is present.
func sectionGroupName(name string) string {
	if i := strings.LastIndex(name, ","); i >= 0 {
		trimmed := strings.TrimSpace(name[i+1:])
		if trimmed != "" {
			return trimmed
		}
	}
	return name
}

// splitSortableName splits "Lastname, Firstname" into its parts.
func splitSortableName(name string) (lastname string, firstname string) {
	if last, first, found := strings.Cut(name, ","); found {
		return strings.TrimSpace(last), strings.TrimSpace(first)
	}
	return strings.TrimSpace(name), ""
}

// normalizeLocale canonicalizes a provider locale ("en-US", "nb_NO") to a
// BCP 47 tag; unparseable values are dropped rather than stored.
func normalizeLocale(locale string) string {
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return ""
	}
	return tag.String()
}
