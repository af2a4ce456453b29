package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/rosterhub/rosterhub/models"
)

// RosterRow is one member as reported by an external roster source.
type RosterRow struct {
	ExternalID  int64
	Username    string
	DisplayName string
	RoleLabel   string
	Extra       map[string]any
}

// Ref is the identifier shown to operators when the row can't be mapped to
// an internal user.
func (r RosterRow) Ref() string {
	if r.Username != "" {
		return r.Username
	}
	return fmt.Sprintf("%d – %s", r.ExternalID, r.DisplayName)
}

// RosterSource fetches the authoritative member list behind a group's join
// source. Implementations live at the adapter boundary (gitlab, canvas) and
// only ever yield rows; transport concerns stay out of the reconciler.
type RosterSource interface {
	FetchMembers(ctx context.Context, spec *models.JoinSourceSpec) ([]RosterRow, error)
}

// AccountResolver maps a roster row to an internal user, or ErrNotFound when
// no account matches.
type AccountResolver interface {
	Resolve(tx *gorm.DB, row RosterRow) (*models.User, error)
}

// accountResolver resolves through the account table for one provider:
// external id first, username as fallback.
type accountResolver struct {
	provider string
}

func NewAccountResolver(provider string) AccountResolver {
	return &accountResolver{provider: provider}
}

func (r *accountResolver) Resolve(tx *gorm.DB, row RosterRow) (*models.User, error) {
	var user models.User
	q := tx.Joins("INNER JOIN accounts ON accounts.user_id = users.id").
		Where("accounts.provider_name = ?", r.provider)
	if row.ExternalID != 0 {
		q = q.Where("accounts.external_id = ?", row.ExternalID)
	} else {
		q = q.Where("accounts.username = ?", row.Username)
	}
	if err := q.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SyncResult is what a reconciliation pass hands back to the caller: the
// audit entries attributable to this pass plus whatever couldn't be mapped.
type SyncResult struct {
	SyncTime time.Time
	Changes  []models.AuditLog
	Unmapped []string
}

type Reconciler struct {
	DB        *models.Database
	Sources   map[models.JoinSourceKind]RosterSource
	Resolvers map[models.JoinSourceKind]AccountResolver
}

func NewReconciler(db *models.Database) *Reconciler {
	return &Reconciler{
		DB:      db,
		Sources: map[models.JoinSourceKind]RosterSource{},
		Resolvers: map[models.JoinSourceKind]AccountResolver{
			models.JoinSourceGitlab:         NewAccountResolver(models.ProviderGitlab),
			models.JoinSourceCanvasSections: NewAccountResolver(models.ProviderCanvas),
			models.JoinSourceCanvasGroups:   NewAccountResolver(models.ProviderCanvas),
		},
	}
}

// ErrNoJoinSource means the group has no external roster configured; there
// is nothing to sync against.
var ErrNoJoinSource = errors.New("no join source configured")

// SyncGroup fetches the group's roster via its configured join source and
// reconciles membership against it. The fetch happens before anything is
// written; an adapter failure aborts the sync with no partial commits.
func (r *Reconciler) SyncGroup(ctx context.Context, course *models.Course, group *models.Group) (*SyncResult, error) {
	spec, err := group.JoinSourceSpec()
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, ErrNoJoinSource
	}
	spec.CourseExternalID = course.ExternalID

	source, ok := r.Sources[spec.Kind]
	if !ok {
		return nil, &models.AdapterError{Source: string(spec.Kind), Err: errors.New("no adapter registered")}
	}
	resolver, ok := r.Resolvers[spec.Kind]
	if !ok {
		return nil, &models.AdapterError{Source: string(spec.Kind), Err: errors.New("no account resolver registered")}
	}

	syncId := uuid.NewString()
	slog.Info("syncing group roster", "syncId", syncId, "course", course.Slug, "group", group.Slug, "source", group.JoinSource)

	watermark, err := r.DB.AuditWatermark()
	if err != nil {
		return nil, err
	}

	rows, err := source.FetchMembers(ctx, spec)
	if err != nil {
		var aerr *models.AdapterError
		if errors.As(err, &aerr) {
			return nil, err
		}
		return nil, &models.AdapterError{Source: string(spec.Kind), Err: err}
	}

	result, err := r.ReconcileMembers(ctx, course, group, rows, resolver, spec.StudentsOnly)
	if result != nil {
		changes, cerr := r.DB.AuditSince(watermark, models.TableGroups, models.TableMemberships)
		if cerr != nil {
			return nil, cerr
		}
		result.Changes = changes
		slog.Info("group roster synced", "syncId", syncId, "group", group.Slug,
			"changes", len(changes), "unmapped", len(result.Unmapped))
	}
	return result, err
}

// ReconcileMembers diffs the target member list against the group's current
// auto-managed membership in one transaction:
//
//   - every resolvable row is upserted via CheckMembership;
//   - auto-managed members absent from the roster are tombstoned, never
//     deleted, so the history stays reconstructable;
//   - rows that don't resolve accumulate on the group's unmapped list and
//     come back as an UnresolvedIdentityError after everything else has
//     committed.
//
// Manually-managed memberships (any origin other than AUTO) are out of
// scope for automated removal.
func (r *Reconciler) ReconcileMembers(ctx context.Context, course *models.Course, group *models.Group, rows []RosterRow, resolver AccountResolver, studentsOnly bool) (*SyncResult, error) {
	syncTime := time.Now().UTC()
	var unmapped []string

	err := r.DB.GormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []models.Membership
		err := tx.Where("group_id = ? AND join_model = ?", group.ID, models.MemberOriginAuto).Find(&current).Error
		if err != nil {
			return err
		}
		absent := lo.SliceToMap(current, func(m models.Membership) (int64, models.Membership) {
			return m.UserID, m
		})

		for _, row := range rows {
			user, err := resolver.Resolve(tx, row)
			if errors.Is(err, models.ErrNotFound) {
				slog.Info("roster row has no matching account", "group", group.Slug, "row", row.Ref())
				unmapped = append(unmapped, row.Ref())
				continue
			}
			if err != nil {
				return err
			}
			if err := CheckMembership(tx, course, group, user, studentsOnly, models.MemberOriginAuto, &syncTime); err != nil {
				return err
			}
			delete(absent, user.ID)
		}

		for _, m := range absent {
			m := m
			slog.Info("tombstoning member absent from roster", "group", group.Slug, "userId", m.UserID)
			err := models.UpdateFields(tx, &m, map[string]any{"join_model": models.MemberOriginRemoved})
			if err != nil {
				return err
			}
		}

		if !slices.Equal(group.UnmappedUsers(), unmapped) {
			group.SetUnmappedUsers(unmapped)
			if err := models.UpdateFields(tx, group, map[string]any{"json_data": group.JSONData}); err != nil {
				return err
			}
		}

		return models.SetSync(tx, group.ID, models.TableGroups, &syncTime, nil)
	})
	if err != nil {
		return nil, err
	}

	result := &SyncResult{SyncTime: syncTime, Unmapped: unmapped}
	if len(unmapped) > 0 {
		return result, &models.UnresolvedIdentityError{Unmapped: unmapped}
	}
	return result, nil
}

// CheckMembership makes sure user's membership in group matches their course
// enrollment. Users without an enrollment are skipped, as are non-students
// when studentsOnly is set (project teams don't auto-add staff). An existing
// auto-managed membership has its role kept in lock-step with the enrollment
// role; memberships with any other origin are never silently rewritten. A
// tombstoned membership reappearing in the roster is reactivated in place.
func CheckMembership(tx *gorm.DB, course *models.Course, group *models.Group, user *models.User, studentsOnly bool, origin models.MemberOrigin, syncTime *time.Time) error {
	var en models.Enrollment
	err := tx.Where("user_id = ? AND course_id = ?", user.ID, course.ID).First(&en).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Info("skipping user not enrolled in course", "group", group.Slug, "user", user.Lastname, "course", course.Slug)
		return nil
	}
	if err != nil {
		return err
	}
	if studentsOnly && en.Role != models.RoleStudent {
		slog.Info("skipping non-student", "group", group.Slug, "user", user.Lastname, "role", en.Role)
		return nil
	}

	membership, created, err := models.GetOrDefine(tx,
		models.Membership{GroupID: group.ID, UserID: user.ID},
		models.Membership{Role: en.Role, JoinModel: origin})
	if err != nil {
		return err
	}
	if !created {
		changes := map[string]any{}
		switch membership.JoinModel {
		case models.MemberOriginAuto:
			if membership.Role != en.Role {
				changes["role"] = en.Role
			}
		case models.MemberOriginRemoved:
			changes["join_model"] = origin
			if membership.Role != en.Role {
				changes["role"] = en.Role
			}
		}
		if err := models.UpdateFields(tx, membership, changes); err != nil {
			return err
		}
	}
	slog.Info("membership up to date", "group", group.Slug, "user", user.Lastname, "created", created)

	if syncTime != nil {
		return models.SetSync(tx, membership.ID, models.TableMemberships, syncTime, nil)
	}
	return nil
}
