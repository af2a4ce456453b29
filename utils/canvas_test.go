package utils

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhub/rosterhub/models"
)

func TestNextLink(t *testing.T) {
	header := `<https://canvas.example.com/api/v1/courses/1/users?page=2&per_page=10>; rel="next", ` +
		`<https://canvas.example.com/api/v1/courses/1/users?page=1&per_page=10>; rel="first"`
	assert.Equal(t, "https://canvas.example.com/api/v1/courses/1/users?page=2&per_page=10", nextLink(header))

	assert.Equal(t, "", nextLink(`<https://canvas.example.com/x?page=1>; rel="last"`))
	assert.Equal(t, "", nextLink(""))
}

func TestGetCourseUsersPaginates(t *testing.T) {
	var pageOne string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, "/courses/55/users", r.URL.Path)

		if r.URL.Query().Get("page") != "2" {
			w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, pageOne))
			fmt.Fprint(w, `[
				{"id": 11, "login_id": "ann", "sortable_name": "Olsen, Ann", "email": "ann@example.com",
				 "locale": "nb", "enrollments": [{"type": "StudentEnrollment"}]},
				{"id": 12, "login_id": "ghost", "sortable_name": "Ghost, No", "enrollments": []}
			]`)
			return
		}
		fmt.Fprint(w, `[
			{"id": 13, "login_id": "prof", "sortable_name": "Berg, Per", "effective_locale": "en-US",
			 "enrollments": [{"type": "StudentEnrollment"}, {"type": "TeacherEnrollment", "role": "TeacherEnrollment"}]}
		]`)
	}))
	defer server.Close()
	pageOne = server.URL + "/courses/55/users?page=2"

	client := NewCanvasClient(server.URL, "test-token")
	rows, err := client.GetCourseUsers(context.Background(), 55)
	require.NoError(t, err)
	require.Len(t, rows, 2) // the user without enrollments is dropped

	assert.Equal(t, int64(11), rows[0].ExternalID)
	assert.Equal(t, "ann", rows[0].LoginID)
	assert.Equal(t, "nb", rows[0].Locale)
	assert.Equal(t, "StudentEnrollment", rows[0].RoleLabel)

	// strongest enrollment wins, effective locale fills in
	assert.Equal(t, int64(13), rows[1].ExternalID)
	assert.Equal(t, "TeacherEnrollment", rows[1].RoleLabel)
	assert.Equal(t, "en-US", rows[1].Locale)
}

func TestGetCourseUsersErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewCanvasClient(server.URL, "bad-token")
	_, err := client.GetCourseUsers(context.Background(), 55)
	var aerr *models.AdapterError
	require.ErrorAs(t, err, &aerr)
}

func TestCanvasRosterSourceSections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/courses/55/sections", r.URL.Path)
		fmt.Fprint(w, `[
			{"id": 71, "name": "INF100, Gruppe 1", "sis_section_id": "inf100-g1",
			 "students": [{"id": 11, "name": "Ann Olsen"}, {"id": 12, "name": "Bob Berg"}]},
			{"id": 72, "name": "INF100, Gruppe 2", "sis_section_id": "inf100-g2", "students": []}
		]`)
	}))
	defer server.Close()

	source := &CanvasRosterSource{Client: NewCanvasClient(server.URL, "t")}

	rows, err := source.FetchMembers(context.Background(), &models.JoinSourceSpec{
		Kind:             models.JoinSourceCanvasSections,
		CourseExternalID: 55,
		GroupExternalID:  "71",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(11), rows[0].ExternalID)
	assert.Equal(t, models.RoleStudent, rows[0].RoleLabel)

	_, err = source.FetchMembers(context.Background(), &models.JoinSourceSpec{
		Kind:             models.JoinSourceCanvasSections,
		CourseExternalID: 55,
		GroupExternalID:  "99",
	})
	var aerr *models.AdapterError
	assert.ErrorAs(t, err, &aerr)
}

func TestCanvasRosterSourceGroups(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups/912/users", r.URL.Path)
		fmt.Fprint(w, `[{"id": 11, "login_id": "ann", "name": "Ann Olsen"}]`)
	}))
	defer server.Close()

	source := &CanvasRosterSource{Client: NewCanvasClient(server.URL, "t")}
	rows, err := source.FetchMembers(context.Background(), &models.JoinSourceSpec{
		Kind:          models.JoinSourceCanvasGroups,
		CanvasGroupID: 912,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ann", rows[0].Username)
	assert.Equal(t, "Ann Olsen", rows[0].DisplayName)
}
