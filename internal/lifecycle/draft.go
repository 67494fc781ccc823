package lifecycle

import (
	"strings"
	"unicode/utf8"

	"aits/tracker/internal/model"
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 1000
)

// Draft is the caller-supplied portion of a new issue. Everything else
// (id, reporter, status, timestamps) is server-assigned.
type Draft struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Academic    model.AcademicContext `json:"academicContext"`
	Category    model.Category        `json:"category"`
	Priority    model.Priority        `json:"priority"`
}

// ValidateDraft checks required fields and length bounds before a draft is
// sent or persisted. Both the portal client and the server of record run it.
func ValidateDraft(draft Draft) error {
	verr := &ValidationError{}

	// Bounds count runes so multibyte titles are not penalized.
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		verr.add("title", "required")
	} else if utf8.RuneCountInString(title) > maxTitleLen {
		verr.add("title", "must be at most 100 characters")
	}

	description := strings.TrimSpace(draft.Description)
	if description == "" {
		verr.add("description", "required")
	} else if utf8.RuneCountInString(description) > maxDescriptionLen {
		verr.add("description", "must be at most 1000 characters")
	}

	if strings.TrimSpace(draft.Academic.College) == "" {
		verr.add("college", "required")
	}
	if strings.TrimSpace(draft.Academic.Program) == "" {
		verr.add("program", "required")
	}
	if draft.Academic.YearOfStudy < 1 || draft.Academic.YearOfStudy > 4 {
		verr.add("yearOfStudy", "must be between 1 and 4")
	}
	if draft.Academic.Semester != 1 && draft.Academic.Semester != 2 {
		verr.add("semester", "must be 1 or 2")
	}
	if strings.TrimSpace(draft.Academic.CourseUnit) == "" {
		verr.add("courseUnit", "required")
	}
	if strings.TrimSpace(draft.Academic.CourseCode) == "" {
		verr.add("courseCode", "required")
	}

	if _, ok := model.ParseCategory(string(draft.Category)); !ok {
		verr.add("category", "must be one of Academic, Discipline, Financial, Other")
	}
	if _, ok := model.ParsePriority(string(draft.Priority)); !ok {
		verr.add("priority", "must be one of Low, Medium, High, Urgent")
	}

	return verr.orNil()
}
