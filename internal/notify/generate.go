// Package notify derives user-facing notifications from issue transitions.
// Generation is a pure function of (previous issue, new issue, actor) and runs
// synchronously with the transition that caused it, so a transition never
// produces duplicate notices.
package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"aits/tracker/internal/lifecycle"
	"aits/tracker/internal/model"
)

// Generate returns the notifications a transition produces. prev is nil when
// the issue was just created; adminIDs is the triage pool for new issues. A
// no-op transition (prev equal to next) yields nothing.
func Generate(prev *model.Issue, next model.Issue, actor lifecycle.Actor, adminIDs []string, now time.Time) []model.Notification {
	var out []model.Notification

	if prev == nil {
		// New submission: notify the admin pool, never the reporter.
		for _, adminID := range adminIDs {
			out = append(out, draft(adminID, next.ID, model.NotificationIssueCreated,
				fmt.Sprintf("New issue reported: %q", next.Title), now))
		}
		return out
	}

	statusChanged := prev.Status != next.Status
	newlyAssigned := next.AssignedLecturerID != "" && prev.AssignedLecturerID != next.AssignedLecturerID

	if statusChanged && actor.UserID != next.ReporterID {
		kind := model.NotificationStatusChanged
		message := fmt.Sprintf("Issue %q moved from %s to %s", next.Title, prev.Status, next.Status)
		if next.Status == model.StatusPendingInformation {
			kind = model.NotificationInfoRequested
			message = fmt.Sprintf("Issue %q needs more information from you: %s", next.Title, next.ResolutionNotes)
		}
		out = append(out, draft(next.ReporterID, next.ID, kind, message, now))
	}

	if newlyAssigned {
		out = append(out, draft(next.AssignedLecturerID, next.ID, model.NotificationIssueAssigned,
			fmt.Sprintf("Issue %q has been assigned to you", next.Title), now))
	}

	// The reporter answering an information request puts the issue back in
	// progress; the assignee has to hear about it without polling.
	if statusChanged && prev.Status == model.StatusPendingInformation && next.Status == model.StatusInProgress &&
		next.AssignedLecturerID != "" && actor.UserID != next.AssignedLecturerID && !newlyAssigned {
		out = append(out, draft(next.AssignedLecturerID, next.ID, model.NotificationStatusChanged,
			fmt.Sprintf("Issue %q received a response and is back in progress", next.Title), now))
	}

	return out
}

func draft(recipientID, issueID string, kind model.NotificationKind, message string, now time.Time) model.Notification {
	return model.Notification{
		ID:             uuid.NewString(),
		RecipientID:    recipientID,
		RelatedIssueID: issueID,
		Kind:           kind,
		Message:        message,
		CreatedAt:      now,
	}
}
