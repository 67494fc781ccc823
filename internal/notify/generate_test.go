package notify

import (
	"testing"
	"time"

	"aits/tracker/internal/lifecycle"
	"aits/tracker/internal/model"
)

const (
	reporterID = "22222222-2222-2222-2222-222222222223"
	lecturerID = "22222222-2222-2222-2222-222222222222"
	adminID    = "22222222-2222-2222-2222-222222222221"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func baseIssue(status model.Status) model.Issue {
	issue := model.Issue{
		ID:         "11111111-1111-1111-1111-111111111111",
		ReporterID: reporterID,
		Title:      "Missing coursework marks",
		Status:     status,
	}
	if status != model.StatusSubmitted {
		issue.AssignedLecturerID = lecturerID
	}
	return issue
}

func TestCreationNotifiesAdminPoolOnly(t *testing.T) {
	issue := baseIssue(model.StatusSubmitted)
	actor := lifecycle.Actor{UserID: reporterID, Role: model.RoleStudent}
	notes := Generate(nil, issue, actor, []string{adminID, "admin-2"}, now)
	if len(notes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notes))
	}
	for _, n := range notes {
		if n.Kind != model.NotificationIssueCreated {
			t.Fatalf("expected IssueCreated, got %s", n.Kind)
		}
		if n.RecipientID == reporterID {
			t.Fatalf("reporter must not be notified of own submission")
		}
		if n.RelatedIssueID != issue.ID {
			t.Fatalf("expected related issue %s, got %s", issue.ID, n.RelatedIssueID)
		}
	}
}

func TestAssignmentNotifiesReporterAndLecturer(t *testing.T) {
	prev := baseIssue(model.StatusSubmitted)
	next := prev
	next.Status = model.StatusAssigned
	next.AssignedLecturerID = lecturerID

	actor := lifecycle.Actor{UserID: adminID, Role: model.RoleAdmin}
	notes := Generate(&prev, next, actor, nil, now)
	if len(notes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notes))
	}
	byRecipient := map[string]model.Notification{}
	for _, n := range notes {
		byRecipient[n.RecipientID] = n
	}
	if byRecipient[reporterID].Kind != model.NotificationStatusChanged {
		t.Fatalf("expected StatusChanged for reporter, got %v", byRecipient[reporterID])
	}
	if byRecipient[lecturerID].Kind != model.NotificationIssueAssigned {
		t.Fatalf("expected IssueAssigned for lecturer, got %v", byRecipient[lecturerID])
	}
}

func TestPendingInformationFlagsReporter(t *testing.T) {
	prev := baseIssue(model.StatusInProgress)
	next := prev
	next.Status = model.StatusPendingInformation
	next.ResolutionNotes = "please share the script number"

	actor := lifecycle.Actor{UserID: lecturerID, Role: model.RoleLecturer}
	notes := Generate(&prev, next, actor, nil, now)
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}
	if notes[0].Kind != model.NotificationInfoRequested {
		t.Fatalf("expected InfoRequested, got %s", notes[0].Kind)
	}
	if notes[0].RecipientID != reporterID {
		t.Fatalf("expected reporter recipient, got %s", notes[0].RecipientID)
	}
}

func TestReporterResponseNotifiesAssignee(t *testing.T) {
	prev := baseIssue(model.StatusPendingInformation)
	next := prev
	next.Status = model.StatusInProgress

	actor := lifecycle.Actor{UserID: reporterID, Role: model.RoleStudent}
	notes := Generate(&prev, next, actor, nil, now)
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}
	if notes[0].RecipientID != lecturerID {
		t.Fatalf("expected assignee recipient, got %s", notes[0].RecipientID)
	}
	// The reporter acted; they do not notify themselves.
	for _, n := range notes {
		if n.RecipientID == reporterID {
			t.Fatalf("reporter must not be self-notified")
		}
	}
}

func TestNoOpGeneratesNothing(t *testing.T) {
	prev := baseIssue(model.StatusInProgress)
	next := prev
	actor := lifecycle.Actor{UserID: lecturerID, Role: model.RoleLecturer}
	if notes := Generate(&prev, next, actor, nil, now); len(notes) != 0 {
		t.Fatalf("expected no notifications for no-op, got %d", len(notes))
	}
}

// Full create -> assign -> in-progress -> resolve flow: the reporter sees
// exactly three notices, one per status change.
func TestReporterNoticeCountAcrossLifecycle(t *testing.T) {
	admin := lifecycle.Actor{UserID: adminID, Role: model.RoleAdmin}
	lecturer := lifecycle.Actor{UserID: lecturerID, Role: model.RoleLecturer}

	submitted := baseIssue(model.StatusSubmitted)
	var reporterNotes []model.Notification
	collect := func(notes []model.Notification) {
		for _, n := range notes {
			if n.RecipientID == reporterID {
				reporterNotes = append(reporterNotes, n)
			}
		}
	}

	collect(Generate(nil, submitted, lifecycle.Actor{UserID: reporterID, Role: model.RoleStudent}, []string{adminID}, now))

	assigned := submitted
	assigned.Status = model.StatusAssigned
	assigned.AssignedLecturerID = lecturerID
	collect(Generate(&submitted, assigned, admin, nil, now))

	inProgress := assigned
	inProgress.Status = model.StatusInProgress
	collect(Generate(&assigned, inProgress, lecturer, nil, now))

	resolved := inProgress
	resolved.Status = model.StatusResolved
	resolved.ResolutionNotes = "Marks re-entered after recount"
	collect(Generate(&inProgress, resolved, lecturer, nil, now))

	if len(reporterNotes) != 3 {
		t.Fatalf("expected reporter to receive 3 notifications, got %d", len(reporterNotes))
	}
}
