package utils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xanzy/go-gitlab"
	"gorm.io/gorm"

	"github.com/rosterhub/rosterhub/models"
	"github.com/rosterhub/rosterhub/services"
)

type GitlabProvider interface {
	NewClient(token string) (*gitlab.Client, error)
}

type GitlabClientProvider struct {
	BaseURL string
}

func (g GitlabClientProvider) NewClient(token string) (*gitlab.Client, error) {
	if g.BaseURL == "" {
		client, err := gitlab.NewClient(token)
		return client, err
	}
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(g.BaseURL))
	return client, err
}

// GitlabRosterSource feeds the reconciler with the member list of a gitlab
// project or group, including inherited members.
type GitlabRosterSource struct {
	Client *gitlab.Client
}

func NewGitlabRosterSource(provider GitlabProvider, token string) (*GitlabRosterSource, error) {
	client, err := provider.NewClient(token)
	if err != nil {
		return nil, fmt.Errorf("could not get gitlab client: %v", err)
	}
	return &GitlabRosterSource{Client: client}, nil
}

var accessLevelLabels = map[gitlab.AccessLevelValue]string{
	gitlab.GuestPermissions:      "guest",
	gitlab.ReporterPermissions:   "reporter",
	gitlab.DeveloperPermissions:  "developer",
	gitlab.MaintainerPermissions: "maintainer",
	gitlab.OwnerPermissions:      "owner",
}

func (s *GitlabRosterSource) FetchMembers(ctx context.Context, spec *models.JoinSourceSpec) ([]services.RosterRow, error) {
	rows, err := s.projectMembers(ctx, spec.ProjectID)
	if err == nil {
		return rows, nil
	}
	// The id may name a group namespace rather than a project.
	rows, gerr := s.groupMembers(ctx, spec.ProjectID)
	if gerr != nil {
		return nil, &models.AdapterError{Source: string(models.JoinSourceGitlab), Err: err}
	}
	return rows, nil
}

func (s *GitlabRosterSource) projectMembers(ctx context.Context, projectId string) ([]services.RosterRow, error) {
	var rows []services.RosterRow
	opt := &gitlab.ListProjectMembersOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	for {
		members, resp, err := s.Client.ProjectMembers.ListAllProjectMembers(pid(projectId), opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			rows = append(rows, services.RosterRow{
				ExternalID:  int64(m.ID),
				Username:    m.Username,
				DisplayName: m.Name,
				RoleLabel:   accessLevelLabels[m.AccessLevel],
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return rows, nil
}

func (s *GitlabRosterSource) groupMembers(ctx context.Context, groupId string) ([]services.RosterRow, error) {
	var rows []services.RosterRow
	opt := &gitlab.ListGroupMembersOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	for {
		members, resp, err := s.Client.Groups.ListAllGroupMembers(pid(groupId), opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			rows = append(rows, services.RosterRow{
				ExternalID:  int64(m.ID),
				Username:    m.Username,
				DisplayName: m.Name,
				RoleLabel:   accessLevelLabels[m.AccessLevel],
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return rows, nil
}

// pid passes numeric ids through as ints so the gitlab client hits /projects/:id
// rather than treating the value as a path.
func pid(id string) any {
	var n int
	if _, err := fmt.Sscanf(id, "%d", &n); err == nil && fmt.Sprint(n) == id {
		return n
	}
	return id
}

// GitlabAccountLinker discovers gitlab accounts for enrolled users that
// don't have one yet, by trying a few username guesses against the gitlab
// user search. Ambiguous matches are skipped, not guessed at.
type GitlabAccountLinker struct {
	DB     *models.Database
	Client *gitlab.Client
}

// LinkCourseAccounts tries to find a gitlab account for every user enrolled
// in the course that has none, and returns how many accounts were defined.
func (l *GitlabAccountLinker) LinkCourseAccounts(ctx context.Context, course *models.Course) (int, error) {
	enrollments, err := l.DB.GetCourseEnrollments(course.ID)
	if err != nil {
		return 0, err
	}
	syncTime := time.Now().UTC()
	linked := 0
	for _, en := range enrollments {
		var user models.User
		if err := l.DB.GormDB.Where("id = ?", en.UserID).First(&user).Error; err != nil {
			return linked, err
		}
		account, err := l.FindAccount(ctx, &user, &syncTime)
		if err != nil {
			return linked, err
		}
		if account != nil {
			linked++
		}
	}
	return linked, nil
}

// FindAccount returns the user's gitlab account, searching gitlab by likely
// usernames and defining the account when exactly one user matches.
func (l *GitlabAccountLinker) FindAccount(ctx context.Context, user *models.User, syncTime *time.Time) (*models.Account, error) {
	account, err := l.DB.GetAccount(user.ID, models.ProviderGitlab)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	gitUser, err := l.searchUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if gitUser == nil {
		slog.Warn("no gitlab user found, maybe not registered yet", "user", user.Lastname)
		return nil, nil
	}

	err = l.DB.GormDB.Transaction(func(tx *gorm.DB) error {
		account, err = services.DefineGitAccount(tx, user, gitUser.Username, int64(gitUser.ID), gitUser.Name, syncTime)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("defined gitlab account", "user", user.Lastname, "username", gitUser.Username)
	return account, nil
}

func (l *GitlabAccountLinker) searchUser(ctx context.Context, user *models.User) (*gitlab.User, error) {
	for _, guess := range usernameGuesses(l.DB, user) {
		found, _, err := l.Client.Users.ListUsers(&gitlab.ListUsersOptions{Username: gitlab.Ptr(guess)}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, &models.AdapterError{Source: string(models.JoinSourceGitlab), Err: err}
		}
		slog.Debug("searching gitlab users", "username", guess, "matches", len(found))
		if len(found) == 1 {
			return found[0], nil
		}
		if len(found) > 1 {
			slog.Warn("ambiguous gitlab user", "user", user.Lastname, "username", guess)
		}
	}
	return nil, nil
}

func usernameGuesses(db *models.Database, user *models.User) []string {
	var guesses []string
	if user.Email != "" {
		local, _, _ := strings.Cut(user.Email, "@")
		if local != "" {
			guesses = append(guesses, local)
		}
	}
	if lms, err := db.GetAccount(user.ID, models.ProviderCanvas); err == nil && lms.Username != "" {
		guesses = append(guesses, lms.Username)
	}
	if user.Firstname != "" && user.Lastname != "" {
		first, _, _ := strings.Cut(user.Firstname, " ")
		guesses = append(guesses, first+"."+user.Lastname)
	}
	return guesses
}
