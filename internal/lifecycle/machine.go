package lifecycle

import (
	"time"
	"unicode/utf8"

	"aits/tracker/internal/model"
)

// minResolutionNotes is the shortest resolution note accepted when moving an
// issue to Resolved or Closed.
const minResolutionNotes = 20

// Actor is the authenticated identity requesting a transition.
type Actor struct {
	UserID string
	Role   model.Role
}

// Request is a requested change of an issue's status, plus the fields some
// edges require in the same call.
type Request struct {
	Target             model.Status `json:"status"`
	AssignedLecturerID string       `json:"assignedLecturerId,omitempty"`
	ResolutionNotes    string       `json:"resolutionNotes,omitempty"`
}

type edge struct {
	from model.Status
	to   model.Status
}

type rule struct {
	authorize    func(actor Actor, issue model.Issue, req Request) bool
	precondition func(issue model.Issue, req Request) error
}

func isAssignee(actor Actor, issue model.Issue) bool {
	return actor.Role == model.RoleLecturer && issue.AssignedLecturerID != "" && actor.UserID == issue.AssignedLecturerID
}

var transitions = map[edge]rule{
	{model.StatusSubmitted, model.StatusAssigned}: {
		authorize: func(actor Actor, _ model.Issue, req Request) bool {
			if actor.Role == model.RoleAdmin {
				return true
			}
			// Lecturers may only assign the issue to themselves.
			return actor.Role == model.RoleLecturer && req.AssignedLecturerID == actor.UserID
		},
		precondition: func(_ model.Issue, req Request) error {
			if req.AssignedLecturerID == "" {
				verr := &ValidationError{}
				verr.add("assignedLecturerId", "required when assigning an issue")
				return verr
			}
			return nil
		},
	},
	{model.StatusAssigned, model.StatusInProgress}: {
		authorize: func(actor Actor, issue model.Issue, _ Request) bool {
			return isAssignee(actor, issue)
		},
	},
	{model.StatusInProgress, model.StatusPendingInformation}: {
		authorize: func(actor Actor, issue model.Issue, _ Request) bool {
			return isAssignee(actor, issue)
		},
		precondition: func(_ model.Issue, req Request) error {
			if req.ResolutionNotes == "" {
				verr := &ValidationError{}
				verr.add("resolutionNotes", "required when requesting information")
				return verr
			}
			return nil
		},
	},
	{model.StatusPendingInformation, model.StatusInProgress}: {
		authorize: func(actor Actor, issue model.Issue, _ Request) bool {
			// Either the assignee resumes work or the reporter submits the
			// requested information.
			return isAssignee(actor, issue) || (actor.Role == model.RoleStudent && actor.UserID == issue.ReporterID)
		},
	},
	{model.StatusInProgress, model.StatusResolved}: {
		authorize: func(actor Actor, issue model.Issue, _ Request) bool {
			return isAssignee(actor, issue)
		},
		precondition: requireResolutionNotes,
	},
	{model.StatusInProgress, model.StatusClosed}: {
		authorize:    closeAuthorized,
		precondition: requireResolutionNotes,
	},
	{model.StatusResolved, model.StatusClosed}: {
		authorize:    closeAuthorized,
		precondition: requireResolutionNotes,
	},
}

func closeAuthorized(actor Actor, issue model.Issue, _ Request) bool {
	return actor.Role == model.RoleAdmin || isAssignee(actor, issue)
}

func requireResolutionNotes(issue model.Issue, req Request) error {
	notes := req.ResolutionNotes
	if notes == "" {
		notes = issue.ResolutionNotes
	}
	// Rune count, not bytes: a note in a non-Latin script must clear the
	// same bar.
	if utf8.RuneCountInString(notes) < minResolutionNotes {
		verr := &ValidationError{}
		verr.add("resolutionNotes", "must be at least 20 characters")
		return verr
	}
	return nil
}

// Check validates a requested transition without applying it.
//
// Order matters: the no-op check runs first so retried requests stay
// idempotent, the edge check rejects unknown transitions for every role, and
// the authorization check runs before preconditions so unauthorized actors
// never learn business-rule detail.
func Check(actor Actor, issue model.Issue, req Request) error {
	if req.Target == issue.Status {
		return ErrNoOp
	}
	rule, ok := transitions[edge{issue.Status, req.Target}]
	if !ok {
		return ErrInvalidTransition
	}
	if !rule.authorize(actor, issue, req) {
		return ErrForbidden
	}
	if rule.precondition != nil {
		if err := rule.precondition(issue, req); err != nil {
			return err
		}
	}
	return nil
}

// Apply validates the transition and returns the updated issue. The input is
// never mutated. ErrNoOp is returned with the unchanged issue so callers can
// report success without side effects.
func Apply(actor Actor, issue model.Issue, req Request, now time.Time) (model.Issue, error) {
	if err := Check(actor, issue, req); err != nil {
		if err == ErrNoOp {
			return issue, ErrNoOp
		}
		return model.Issue{}, err
	}

	next := issue
	next.Status = req.Target
	if req.AssignedLecturerID != "" {
		next.AssignedLecturerID = req.AssignedLecturerID
	}
	if req.ResolutionNotes != "" {
		next.ResolutionNotes = req.ResolutionNotes
	}
	next.UpdatedAt = now
	return next, nil
}

// Targets returns the transition targets the actor is currently authorized to
// request for the issue, in no particular order. Preconditions are not
// evaluated; they depend on fields supplied with the request itself.
func Targets(actor Actor, issue model.Issue) []model.Status {
	var out []model.Status
	for e, rule := range transitions {
		if e.from != issue.Status {
			continue
		}
		if rule.authorize(actor, issue, Request{Target: e.to, AssignedLecturerID: actor.UserID}) {
			out = append(out, e.to)
		}
	}
	return out
}
