package lifecycle

import (
	"errors"
	"strings"
	"testing"

	"aits/tracker/internal/model"
)

func validDraft() Draft {
	return Draft{
		Title:       "Missing coursework marks",
		Description: "My coursework marks for CSC2103 are missing from the portal.",
		Academic: model.AcademicContext{
			College:     "COCIS",
			Program:     "BSc Computer Science",
			YearOfStudy: 2,
			Semester:    1,
			CourseUnit:  "Data Structures",
			CourseCode:  "CSC2103",
		},
		Category: model.CategoryAcademic,
		Priority: model.PriorityMedium,
	}
}

func TestValidateDraftAccepts(t *testing.T) {
	if err := ValidateDraft(validDraft()); err != nil {
		t.Fatalf("expected valid draft, got %v", err)
	}

	// A 100-rune multibyte title is within bounds even though it exceeds
	// 100 bytes.
	draft := validDraft()
	draft.Title = strings.Repeat("成", 100)
	if err := ValidateDraft(draft); err != nil {
		t.Fatalf("expected 100-rune title to pass, got %v", err)
	}
}

func TestValidateDraftBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Draft)
		field  string
	}{
		{"empty title", func(d *Draft) { d.Title = "  " }, "title"},
		{"long title", func(d *Draft) { d.Title = strings.Repeat("x", 101) }, "title"},
		{"long multibyte title", func(d *Draft) { d.Title = strings.Repeat("成", 101) }, "title"},
		{"empty description", func(d *Draft) { d.Description = "" }, "description"},
		{"long description", func(d *Draft) { d.Description = strings.Repeat("x", 1001) }, "description"},
		{"missing college", func(d *Draft) { d.Academic.College = "" }, "college"},
		{"missing program", func(d *Draft) { d.Academic.Program = "" }, "program"},
		{"year zero", func(d *Draft) { d.Academic.YearOfStudy = 0 }, "yearOfStudy"},
		{"year five", func(d *Draft) { d.Academic.YearOfStudy = 5 }, "yearOfStudy"},
		{"semester three", func(d *Draft) { d.Academic.Semester = 3 }, "semester"},
		{"missing course unit", func(d *Draft) { d.Academic.CourseUnit = "" }, "courseUnit"},
		{"missing course code", func(d *Draft) { d.Academic.CourseCode = "" }, "courseCode"},
		{"bad category", func(d *Draft) { d.Category = "Sports" }, "category"},
		{"bad priority", func(d *Draft) { d.Priority = "Critical" }, "priority"},
	}
	for _, tc := range cases {
		draft := validDraft()
		tc.mutate(&draft)
		err := ValidateDraft(draft)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if len(verr.Fields[tc.field]) == 0 {
			t.Fatalf("%s: expected error on %s, got %v", tc.name, tc.field, verr.Fields)
		}
	}
}
