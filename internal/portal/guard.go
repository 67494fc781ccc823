package portal

import (
	"context"

	"aits/tracker/internal/model"
)

// View identifies a navigable screen in the portal.
type View string

const (
	ViewLogin             View = "login"
	ViewStudentDashboard  View = "student-dashboard"
	ViewReportIssue       View = "report-issue"
	ViewLecturerDashboard View = "lecturer-dashboard"
	ViewAdminDashboard    View = "admin-dashboard"
	ViewIssueDetail       View = "issue-detail"
	ViewNotifications     View = "notifications"
)

var viewsByRole = map[model.Role][]View{
	model.RoleStudent:  {ViewStudentDashboard, ViewReportIssue, ViewIssueDetail, ViewNotifications},
	model.RoleLecturer: {ViewLecturerDashboard, ViewIssueDetail, ViewNotifications},
	model.RoleAdmin:    {ViewAdminDashboard, ViewIssueDetail, ViewNotifications},
}

// ViewsFor returns the views a role may navigate to. Unknown roles get none.
func ViewsFor(role model.Role) []View {
	views := viewsByRole[role]
	out := make([]View, len(views))
	copy(out, views)
	return out
}

// Guard gates navigation on the session's identity and routes the user back
// to login when the session expires.
type Guard struct {
	session  *Session
	navigate func(View)
}

// NewGuard wires navigate into the session's expiry signal: when the session
// dies, the guard sends the user to the login view exactly once.
func NewGuard(session *Session, navigate func(View)) *Guard {
	g := &Guard{session: session, navigate: navigate}
	session.OnExpire(func(error) {
		if g.navigate != nil {
			g.navigate(ViewLogin)
		}
	})
	return g
}

// Views returns the views available to the signed-in user.
func (g *Guard) Views(ctx context.Context) ([]View, error) {
	identity, err := g.session.Identity(ctx)
	if err != nil {
		return nil, err
	}
	return ViewsFor(identity.Role), nil
}

// Allowed reports whether the signed-in user may open view. Login is always
// reachable.
func (g *Guard) Allowed(ctx context.Context, view View) (bool, error) {
	if view == ViewLogin {
		return true, nil
	}
	views, err := g.Views(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range views {
		if v == view {
			return true, nil
		}
	}
	return false, nil
}
