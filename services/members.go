package services

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/rosterhub/rosterhub/models"
)

// isPrivileged reports whether the actor may bypass join policies in this
// course: either a site admin or enrolled as ta/teacher/admin.
func isPrivileged(tx *gorm.DB, actor *models.User, course *models.Course) (bool, error) {
	if actor.IsAdmin {
		return true, nil
	}
	var en models.Enrollment
	err := tx.Where("user_id = ? AND course_id = ?", actor.ID, course.ID).First(&en).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return models.IsPrivilegedRole(en.Role), nil
}

// AddMember adds user to group on behalf of actor, enforcing the group's
// join policy before any mutation:
//
//   - OPEN: any enrolled user may join themselves;
//   - RESTRICTED: self-join requires active membership in the parent group;
//   - CLOSED and AUTO: only privileged actors may add members (AUTO groups
//     are otherwise owned by the synchronizer).
//
// A privileged add is recorded with origin CLOSED (manually added); a
// self-join records the group's policy. A tombstoned membership is
// reactivated in place.
func (r *Reconciler) AddMember(ctx context.Context, actor *models.User, course *models.Course, group *models.Group, user *models.User, role string) (*models.Membership, error) {
	var membership *models.Membership
	err := r.DB.GormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		privileged, err := isPrivileged(tx, actor, course)
		if err != nil {
			return err
		}

		origin := models.MemberOrigin(group.JoinModel)
		if privileged {
			origin = models.MemberOriginClosed
		} else {
			if actor.ID != user.ID {
				return &models.PolicyViolationError{Policy: group.JoinModel, Op: "adding another user"}
			}
			switch group.JoinModel {
			case models.GroupPolicyOpen:
			case models.GroupPolicyRestricted:
				ok, err := hasParentMembership(tx, group, user)
				if err != nil {
					return err
				}
				if !ok {
					return &models.PolicyViolationError{Policy: group.JoinModel, Op: "joining without parent membership"}
				}
			default:
				return &models.PolicyViolationError{Policy: group.JoinModel, Op: "self-join"}
			}
		}

		var en models.Enrollment
		err = tx.Where("user_id = ? AND course_id = ?", user.ID, course.ID).First(&en).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		if role == "" {
			role = en.Role
		}

		m, created, err := models.GetOrDefine(tx,
			models.Membership{GroupID: group.ID, UserID: user.ID},
			models.Membership{Role: role, JoinModel: origin})
		if err != nil {
			return err
		}
		if !created && m.JoinModel == models.MemberOriginRemoved {
			err := models.UpdateFields(tx, m, map[string]any{"join_model": origin, "role": role})
			if err != nil {
				return err
			}
		}
		membership = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("member added", "group", group.Slug, "userId", user.ID, "actorId", actor.ID)
	return membership, nil
}

// RemoveMember tombstones user's membership. Privileged actors may remove
// anyone; a user may remove themselves from an OPEN group. The row is kept
// with its prior role so the history stays queryable, and a later add or
// sync reactivates it.
func (r *Reconciler) RemoveMember(ctx context.Context, actor *models.User, course *models.Course, group *models.Group, user *models.User) error {
	err := r.DB.GormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		privileged, err := isPrivileged(tx, actor, course)
		if err != nil {
			return err
		}
		if !privileged && !(actor.ID == user.ID && group.JoinModel == models.GroupPolicyOpen) {
			return &models.PolicyViolationError{Policy: group.JoinModel, Op: "removing a member"}
		}

		var m models.Membership
		err = tx.Where("group_id = ? AND user_id = ?", group.ID, user.ID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		if m.JoinModel == models.MemberOriginRemoved {
			return nil
		}
		return models.UpdateFields(tx, &m, map[string]any{"join_model": models.MemberOriginRemoved})
	})
	if err != nil {
		return err
	}
	slog.Info("member removed", "group", group.Slug, "userId", user.ID, "actorId", actor.ID)
	return nil
}

// hasParentMembership reports whether user is an active member of group's
// parent. Groups without a parent are treated as closed for self-join.
func hasParentMembership(tx *gorm.DB, group *models.Group, user *models.User) (bool, error) {
	if group.ParentID == nil {
		return false, nil
	}
	var count int64
	err := tx.Model(&models.Membership{}).
		Where("group_id = ? AND user_id = ? AND join_model <> ?", *group.ParentID, user.ID, models.MemberOriginRemoved).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
