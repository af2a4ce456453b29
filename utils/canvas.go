package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rosterhub/rosterhub/models"
	"github.com/rosterhub/rosterhub/services"
)

// CanvasClient is a thin client for the LMS REST API. It only knows how to
// page through list endpoints and shape the payloads the sync needs; retries
// and rate limiting stay with the caller.
type CanvasClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewCanvasClient(baseURL string, token string) *CanvasClient {
	return &CanvasClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func adapterErr(err error) error {
	return &models.AdapterError{Source: "canvas", Err: err}
}

// getPage fetches one page and returns the "next" link from the Link header,
// empty when this was the last page.
func (c *CanvasClient) getPage(ctx context.Context, pageUrl string, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageUrl, nil)
	if err != nil {
		return "", adapterErr(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", adapterErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", adapterErr(fmt.Errorf("request failed: %s %s", pageUrl, resp.Status))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", adapterErr(err)
	}
	return nextLink(resp.Header.Get("Link")), nil
}

// nextLink extracts the rel="next" url from an RFC 5988 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		seg := strings.Split(part, ";")
		if len(seg) < 2 {
			continue
		}
		if strings.TrimSpace(seg[1]) == `rel="next"` {
			return strings.Trim(strings.TrimSpace(seg[0]), "<>")
		}
	}
	return ""
}

func (c *CanvasClient) getPaginated(ctx context.Context, endpoint string, params url.Values, collect func(page json.RawMessage) error) error {
	pageUrl := c.BaseURL + endpoint
	if len(params) > 0 {
		pageUrl += "?" + params.Encode()
	}
	for pageUrl != "" {
		var page json.RawMessage
		next, err := c.getPage(ctx, pageUrl, &page)
		if err != nil {
			return err
		}
		if err := collect(page); err != nil {
			return adapterErr(err)
		}
		pageUrl = next
	}
	return nil
}

type canvasEnrollment struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

type canvasUser struct {
	ID              int64              `json:"id"`
	LoginID         string             `json:"login_id"`
	SortableName    string             `json:"sortable_name"`
	Email           string             `json:"email"`
	AvatarURL       string             `json:"avatar_url"`
	Locale          string             `json:"locale"`
	EffectiveLocale string             `json:"effective_locale"`
	Name            string             `json:"name"`
	Enrollments     []canvasEnrollment `json:"enrollments"`
}

type canvasSection struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	SISSectionID string       `json:"sis_section_id"`
	Students     []canvasUser `json:"students"`
}

type canvasCourse struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	CourseCode  string     `json:"course_code"`
	SISCourseID string     `json:"sis_course_id"`
	EndAt       *time.Time `json:"end_at"`
}

// GetCourse fetches the course header.
func (c *CanvasClient) GetCourse(ctx context.Context, courseId int64) (*services.LMSCourse, error) {
	var course canvasCourse
	_, err := c.getPage(ctx, fmt.Sprintf("%s/courses/%d/", c.BaseURL, courseId), &course)
	if err != nil {
		return nil, err
	}
	return &services.LMSCourse{
		ExternalID:  course.ID,
		Name:        course.Name,
		CourseCode:  course.CourseCode,
		SISCourseID: course.SISCourseID,
		EndAt:       course.EndAt,
	}, nil
}

// GetCourseUsers fetches the course roster with emails, avatars, locales and
// enrollments included. Users without any enrollment are dropped.
func (c *CanvasClient) GetCourseUsers(ctx context.Context, courseId int64) ([]services.LMSUserRow, error) {
	params := url.Values{
		"include[]": []string{"email", "avatar_url", "enrollments", "locale", "effective_locale"},
		"per_page":  []string{"200"},
	}
	var rows []services.LMSUserRow
	err := c.getPaginated(ctx, fmt.Sprintf("/courses/%d/users", courseId), params, func(page json.RawMessage) error {
		var users []canvasUser
		if err := json.Unmarshal(page, &users); err != nil {
			return err
		}
		for _, u := range users {
			if len(u.Enrollments) == 0 {
				continue
			}
			locale := u.Locale
			if locale == "" {
				locale = u.EffectiveLocale
			}
			rows = append(rows, services.LMSUserRow{
				ExternalID:   u.ID,
				LoginID:      u.LoginID,
				SortableName: u.SortableName,
				Email:        u.Email,
				AvatarURL:    u.AvatarURL,
				Locale:       locale,
				RoleLabel:    roleLabelOf(u.Enrollments),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// roleLabelOf picks the strongest enrollment's label; the provider-specific
// label passes through and is normalized on the store side.
func roleLabelOf(enrollments []canvasEnrollment) string {
	rank := map[string]int{"StudentEnrollment": 1, "TaEnrollment": 2, "TeacherEnrollment": 3}
	best := enrollments[0]
	for _, e := range enrollments[1:] {
		if rank[e.Type] > rank[best.Type] {
			best = e
		}
	}
	if best.Role != "" {
		return best.Role
	}
	return best.Type
}

// GetSections fetches the course's sections with their student lists.
func (c *CanvasClient) GetSections(ctx context.Context, courseId int64) ([]services.LMSSection, error) {
	params := url.Values{
		"include[]": []string{"students"},
		"per_page":  []string{"200"},
	}
	var sections []services.LMSSection
	err := c.getPaginated(ctx, fmt.Sprintf("/courses/%d/sections", courseId), params, func(page json.RawMessage) error {
		var raw []canvasSection
		if err := json.Unmarshal(page, &raw); err != nil {
			return err
		}
		for _, s := range raw {
			section := services.LMSSection{
				ExternalID:   strconv.FormatInt(s.ID, 10),
				SISSectionID: s.SISSectionID,
				Name:         s.Name,
			}
			for _, student := range s.Students {
				section.Students = append(section.Students, services.LMSStudentRef{
					ExternalID: student.ID,
					Name:       student.Name,
				})
			}
			sections = append(sections, section)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sections, nil
}

// GetGroupUsers fetches the members of one LMS group.
func (c *CanvasClient) GetGroupUsers(ctx context.Context, groupId int64) ([]services.RosterRow, error) {
	params := url.Values{"per_page": []string{"200"}}
	var rows []services.RosterRow
	err := c.getPaginated(ctx, fmt.Sprintf("/groups/%d/users", groupId), params, func(page json.RawMessage) error {
		var users []canvasUser
		if err := json.Unmarshal(page, &users); err != nil {
			return err
		}
		for _, u := range users {
			rows = append(rows, services.RosterRow{
				ExternalID:  u.ID,
				Username:    u.LoginID,
				DisplayName: u.Name,
				RoleLabel:   models.RoleStudent,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CanvasRosterSource adapts the LMS endpoints to the reconciler's fetch
// interface for section- and group-fed groups.
type CanvasRosterSource struct {
	Client *CanvasClient
}

func (s *CanvasRosterSource) FetchMembers(ctx context.Context, spec *models.JoinSourceSpec) ([]services.RosterRow, error) {
	switch spec.Kind {
	case models.JoinSourceCanvasGroups:
		return s.Client.GetGroupUsers(ctx, spec.CanvasGroupID)
	case models.JoinSourceCanvasSections:
		sections, err := s.Client.GetSections(ctx, spec.CourseExternalID)
		if err != nil {
			return nil, err
		}
		for _, section := range sections {
			if section.ExternalID != spec.GroupExternalID {
				continue
			}
			rows := make([]services.RosterRow, len(section.Students))
			for i, student := range section.Students {
				rows[i] = services.RosterRow{ExternalID: student.ExternalID, DisplayName: student.Name, RoleLabel: models.RoleStudent}
			}
			return rows, nil
		}
		return nil, adapterErr(fmt.Errorf("no section matching group external id %q", spec.GroupExternalID))
	}
	return nil, adapterErr(fmt.Errorf("unsupported join source %q", spec.Kind))
}
