package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// JoinSourceKind names the roster adapter that feeds an auto-joined group.
type JoinSourceKind string

const (
	// JoinSourceGitlab pulls direct and indirect members of a gitlab
	// project or group.
	JoinSourceGitlab JoinSourceKind = "gitlab"
	// JoinSourceCanvasSections pulls enrolled students of the LMS section
	// matching the group's external id.
	JoinSourceCanvasSections JoinSourceKind = "canvas_sections"
	// JoinSourceCanvasGroups pulls members of an LMS group category group.
	JoinSourceCanvasGroups JoinSourceKind = "canvas_groups"
)

// JoinSourceSpec is the parsed, tagged form of a Group's join_source field.
// The raw field looks like a tiny function call ("gitlab(33690,
// students_only=true)") but it is parsed up front, never evaluated: unknown
// adapter names are rejected when the group is saved, and nothing here can
// reach arbitrary code.
type JoinSourceSpec struct {
	Kind          JoinSourceKind
	ProjectID     string // gitlab project/group id or full path
	CanvasGroupID int64  // canvas_groups only
	StudentsOnly  bool

	// Filled in from the group being synced before the spec is handed to an
	// adapter; not part of the stored formula.
	CourseExternalID int64
	GroupExternalID  string
}

var joinSourceRe = regexp.MustCompile(`^\s*([a-z_]+)\s*\(\s*([^)]*?)\s*\)\s*$`)

// ParseJoinSource parses a join_source formula into its tagged form.
func ParseJoinSource(source string) (*JoinSourceSpec, error) {
	m := joinSourceRe.FindStringSubmatch(source)
	if m == nil {
		return nil, fmt.Errorf("malformed join source %q", source)
	}
	name, rawArgs := m[1], m[2]

	var positional []string
	keyword := map[string]string{}
	if rawArgs != "" {
		for _, arg := range strings.Split(rawArgs, ",") {
			arg = strings.TrimSpace(arg)
			if k, v, found := strings.Cut(arg, "="); found {
				keyword[strings.TrimSpace(k)] = strings.TrimSpace(v)
			} else {
				positional = append(positional, arg)
			}
		}
	}

	spec := &JoinSourceSpec{Kind: JoinSourceKind(name)}
	switch spec.Kind {
	case JoinSourceGitlab:
		if len(positional) != 1 || positional[0] == "" {
			return nil, fmt.Errorf("join source %q needs a project id or path", source)
		}
		spec.ProjectID = positional[0]
		spec.StudentsOnly = true
		if v, ok := keyword["students_only"]; ok {
			spec.StudentsOnly = parseBoolArg(v)
		}
	case JoinSourceCanvasSections:
		// The only accepted argument is the COURSE_ID placeholder; the
		// actual course comes from the group being synced.
		if len(positional) > 1 || (len(positional) == 1 && positional[0] != "COURSE_ID") {
			return nil, fmt.Errorf("join source %q takes at most COURSE_ID", source)
		}
		spec.StudentsOnly = true
	case JoinSourceCanvasGroups:
		v, ok := keyword["group_id"]
		if !ok {
			return nil, fmt.Errorf("join source %q needs group_id=N", source)
		}
		id, err := cast.ToInt64E(v)
		if err != nil {
			return nil, fmt.Errorf("join source %q: bad group_id: %v", source, err)
		}
		spec.CanvasGroupID = id
		spec.StudentsOnly = true
	default:
		return nil, fmt.Errorf("unknown join source adapter %q", name)
	}
	return spec, nil
}

func parseBoolArg(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// JoinSourceSpec parses the group's stored formula; nil if the group has no
// join source configured.
func (g *Group) JoinSourceSpec() (*JoinSourceSpec, error) {
	if g.JoinSource == "" {
		return nil, nil
	}
	spec, err := ParseJoinSource(g.JoinSource)
	if err != nil {
		return nil, err
	}
	spec.GroupExternalID = g.ExternalID
	return spec, nil
}

// BeforeSave rejects bad join source formulas at save time, not at sync time.
func (g *Group) BeforeSave(tx *gorm.DB) error {
	if g.JoinSource == "" {
		return nil
	}
	_, err := ParseJoinSource(g.JoinSource)
	return err
}
