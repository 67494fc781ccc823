package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aits/tracker/internal/model"
)

func TestInbox(t *testing.T) {
	var marked string

	mux := http.NewServeMux()
	mux.HandleFunc("/notifications", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]model.Notification{
			{ID: "n1", RecipientID: "stu-1", RelatedIssueID: "i1", Kind: model.NotificationStatusChanged, CreatedAt: time.Now().UTC()},
			{ID: "n2", RecipientID: "stu-1", RelatedIssueID: "i1", Kind: model.NotificationInfoRequested, CreatedAt: time.Now().UTC()},
		})
	})
	mux.HandleFunc("/notifications/unread", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"count": 2})
	})
	mux.HandleFunc("/notifications/n1/read", func(w http.ResponseWriter, r *http.Request) {
		marked = "n1"
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session, _ := newTestSession(t, server, Tokens{Access: "tok", Refresh: "ref"})
	inbox := NewInbox(session)
	ctx := context.Background()

	notifications, err := inbox.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notifications))
	}

	count, err := inbox.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	if err := inbox.MarkRead(ctx, "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if marked != "n1" {
		t.Fatalf("marked = %q", marked)
	}
}
