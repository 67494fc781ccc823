package portal

import (
	"context"
	"net/http"

	"aits/tracker/internal/model"
)

// Inbox is the client view of the signed-in user's notifications.
type Inbox struct {
	session *Session
}

func NewInbox(session *Session) *Inbox {
	return &Inbox{session: session}
}

// List returns the user's notifications, newest first.
func (i *Inbox) List(ctx context.Context) ([]model.Notification, error) {
	var notifications []model.Notification
	if err := i.session.Do(ctx, http.MethodGet, "/notifications", nil, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// UnreadCount returns the number of unread notifications, for the badge on
// the notifications view.
func (i *Inbox) UnreadCount(ctx context.Context) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := i.session.Do(ctx, http.MethodGet, "/notifications/unread", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkRead marks one notification as read.
func (i *Inbox) MarkRead(ctx context.Context, notificationID string) error {
	return i.session.Do(ctx, http.MethodPost, "/notifications/"+notificationID+"/read", nil, nil)
}
