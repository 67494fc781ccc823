package portal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"aits/tracker/internal/lifecycle"
	"aits/tracker/internal/model"
)

// DefaultMutationTimeout bounds issue mutations so a hung request cannot
// block the UI indefinitely. Reads are governed only by the caller's context.
const DefaultMutationTimeout = 10 * time.Second

// Scope selects which slice of the issue collection a caller sees. The API
// enforces the same boundaries; the client-side check just fails fast and
// filters anything an over-broad response might contain.
type Scope string

const (
	ScopeOwn          Scope = "own"
	ScopeAssignedToMe Scope = "assignedToMe"
	ScopeAll          Scope = "all"
)

// ListOptions narrows a listing beyond its scope.
type ListOptions struct {
	Status   model.Status
	Category model.Category
	Priority model.Priority
}

// Repository is the client-side issue collection: a local cache over the
// tracker API. Mutations for the same issue are serialized so two dialogs
// acting on one issue cannot interleave, and the cache only changes when the
// server accepts a mutation.
//
// The cache is keyed by issue id and carries no ordering; recency order comes
// from the server, which lists newest first, and List returns rows in that
// order. Freshly created issues therefore surface at the head of the next
// listing.
type Repository struct {
	session         *Session
	mutationTimeout time.Duration

	mu    sync.Mutex
	cache map[string]model.Issue
	locks map[string]*sync.Mutex
}

func NewRepository(session *Session) *Repository {
	return &Repository{
		session:         session,
		mutationTimeout: DefaultMutationTimeout,
		cache:           make(map[string]model.Issue),
		locks:           make(map[string]*sync.Mutex),
	}
}

// SetMutationTimeout overrides the per-mutation deadline. Zero disables it.
func (r *Repository) SetMutationTimeout(d time.Duration) {
	r.mutationTimeout = d
}

// List fetches the issues visible under scope and replaces the cached copies.
// A replayed request cannot duplicate entries because the cache is keyed by
// issue id.
func (r *Repository) List(ctx context.Context, scope Scope, opts ListOptions) ([]model.Issue, error) {
	identity, err := r.session.Identity(ctx)
	if err != nil {
		return nil, err
	}
	if !scopeAllowed(scope, identity.Role) {
		return nil, lifecycle.ErrForbidden
	}

	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Category != "" {
		q.Set("category", string(opts.Category))
	}
	if opts.Priority != "" {
		q.Set("priority", string(opts.Priority))
	}
	path := "/issues"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var fetched []model.Issue
	if err := r.session.Do(ctx, http.MethodGet, path, nil, &fetched); err != nil {
		return nil, err
	}

	// The API already scopes responses by role; filtering again here keeps a
	// misconfigured or stale server from widening what the caller sees.
	issues := make([]model.Issue, 0, len(fetched))
	for _, issue := range fetched {
		if inScope(issue, scope, identity) {
			issues = append(issues, issue)
		}
	}

	r.mu.Lock()
	for _, issue := range issues {
		r.cache[issue.ID] = issue
	}
	r.mu.Unlock()

	return issues, nil
}

func scopeAllowed(scope Scope, role model.Role) bool {
	switch scope {
	case ScopeOwn:
		return role == model.RoleStudent
	case ScopeAssignedToMe:
		return role == model.RoleLecturer
	case ScopeAll:
		return role == model.RoleAdmin
	default:
		return false
	}
}

func inScope(issue model.Issue, scope Scope, identity model.Identity) bool {
	switch scope {
	case ScopeOwn:
		return issue.ReporterID == identity.UserID
	case ScopeAssignedToMe:
		// Unassigned submitted issues stay visible so lecturers can pick
		// them up.
		return issue.AssignedLecturerID == identity.UserID ||
			(issue.Status == model.StatusSubmitted && issue.AssignedLecturerID == "")
	case ScopeAll:
		return identity.Role == model.RoleAdmin
	default:
		return false
	}
}

// Get returns the cached copy of an issue, fetching it when absent.
func (r *Repository) Get(ctx context.Context, issueID string) (model.Issue, error) {
	r.mu.Lock()
	issue, ok := r.cache[issueID]
	r.mu.Unlock()
	if ok {
		return issue, nil
	}

	var fetched model.Issue
	if err := r.session.Do(ctx, http.MethodGet, "/issues/"+issueID, nil, &fetched); err != nil {
		return model.Issue{}, err
	}
	r.mu.Lock()
	r.cache[fetched.ID] = fetched
	r.mu.Unlock()
	return fetched, nil
}

// Create validates the draft locally, submits it, and caches the record the
// server returns, which always carries the Submitted status. Validation
// failures never reach the network.
func (r *Repository) Create(ctx context.Context, draft lifecycle.Draft) (model.Issue, error) {
	if err := lifecycle.ValidateDraft(draft); err != nil {
		return model.Issue{}, err
	}

	ctx, cancel := r.mutationContext(ctx)
	defer cancel()

	var created model.Issue
	if err := r.session.Do(ctx, http.MethodPost, "/issues", draft, &created); err != nil {
		return model.Issue{}, err
	}

	r.mu.Lock()
	r.cache[created.ID] = created
	r.mu.Unlock()
	return created, nil
}

// RequestTransition moves an issue to a new status. The transition is checked
// locally first so obviously illegal requests fail without a round trip, then
// submitted; the cached copy is replaced only when the server accepts it.
// Requesting the current status is a no-op and returns the cached issue.
func (r *Repository) RequestTransition(ctx context.Context, issueID string, req lifecycle.Request) (model.Issue, error) {
	lock := r.issueLock(issueID)
	lock.Lock()
	defer lock.Unlock()

	identity, err := r.session.Identity(ctx)
	if err != nil {
		return model.Issue{}, err
	}
	actor := lifecycle.Actor{UserID: identity.UserID, Role: identity.Role}

	r.mu.Lock()
	current, cached := r.cache[issueID]
	r.mu.Unlock()

	if cached {
		switch err := lifecycle.Check(actor, current, req); {
		case errors.Is(err, lifecycle.ErrNoOp):
			return current, nil
		case err != nil:
			return model.Issue{}, err
		}
	}

	ctx, cancel := r.mutationContext(ctx)
	defer cancel()

	var updated model.Issue
	if err := r.session.Do(ctx, http.MethodPatch, "/issues/"+issueID, req, &updated); err != nil {
		return model.Issue{}, err
	}

	r.mu.Lock()
	r.cache[updated.ID] = updated
	r.mu.Unlock()
	return updated, nil
}

// AppendAttachment records an attachment reference on an issue.
func (r *Repository) AppendAttachment(ctx context.Context, issueID, attachmentURL string) (model.Issue, error) {
	lock := r.issueLock(issueID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := r.mutationContext(ctx)
	defer cancel()

	payload := struct {
		URL string `json:"url"`
	}{URL: attachmentURL}

	var updated model.Issue
	if err := r.session.Do(ctx, http.MethodPost, "/issues/"+issueID+"/attachments", payload, &updated); err != nil {
		return model.Issue{}, err
	}

	r.mu.Lock()
	r.cache[updated.ID] = updated
	r.mu.Unlock()
	return updated, nil
}

// Targets lists the statuses the signed-in user may move the issue to,
// computed from the cached copy.
func (r *Repository) Targets(ctx context.Context, issueID string) ([]model.Status, error) {
	identity, err := r.session.Identity(ctx)
	if err != nil {
		return nil, err
	}
	issue, err := r.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	return lifecycle.Targets(lifecycle.Actor{UserID: identity.UserID, Role: identity.Role}, issue), nil
}

func (r *Repository) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.mutationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.mutationTimeout)
}

func (r *Repository) issueLock(issueID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[issueID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[issueID] = lock
	}
	return lock
}
