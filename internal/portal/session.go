package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"aits/tracker/internal/lifecycle"
	"aits/tracker/internal/model"
)

// Session owns the credential pair for one signed-in user and performs
// authenticated HTTP calls against the tracker API. When a request comes back
// 401 it refreshes the access token once and replays the request once;
// concurrent 401s share a single in-flight refresh. A second authentication
// failure tears the session down for good.
type Session struct {
	baseURL string
	httpc   *http.Client
	store   TokenStore

	mu       sync.Mutex
	tokens   Tokens
	identity *model.Identity
	expired  bool
	onExpire func(error)

	refreshGroup singleflight.Group
}

// NewSession loads any persisted tokens from store. A session with no tokens
// is usable only for Login.
func NewSession(baseURL string, httpc *http.Client, store TokenStore) (*Session, error) {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	tokens, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		store:   store,
		tokens:  tokens,
	}, nil
}

// OnExpire registers a callback invoked exactly once when the session is
// torn down because authentication can no longer be recovered.
func (s *Session) OnExpire(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

// SignedIn reports whether the session currently holds credentials.
func (s *Session) SignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.expired && !s.tokens.empty()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	User         model.Identity `json:"user"`
}

// Login exchanges credentials for a token pair and persists it. A successful
// login revives an expired session.
func (s *Session) Login(ctx context.Context, email, password string) (model.Identity, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return model.Identity{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return model.Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return model.Identity{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return model.Identity{}, errors.New("invalid credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return model.Identity{}, fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Identity{}, fmt.Errorf("decode login response: %w", err)
	}

	s.mu.Lock()
	s.tokens = Tokens{Access: out.AccessToken, Refresh: out.RefreshToken}
	s.identity = &out.User
	s.expired = false
	s.mu.Unlock()

	if err := s.store.Save(Tokens{Access: out.AccessToken, Refresh: out.RefreshToken}); err != nil {
		return model.Identity{}, err
	}
	return out.User, nil
}

// Logout revokes the refresh session server-side and clears local state.
// Local state is cleared even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	err := s.Do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	s.teardown(nil)
	if err != nil && !errors.Is(err, ErrSessionExpired) {
		return err
	}
	return nil
}

// Identity returns the signed-in user, fetching it lazily from /auth/me the
// first time. The result is cached until the session ends.
func (s *Session) Identity(ctx context.Context) (model.Identity, error) {
	s.mu.Lock()
	if s.identity != nil {
		id := *s.identity
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var id model.Identity
	if err := s.Do(ctx, http.MethodGet, "/auth/me", nil, &id); err != nil {
		return model.Identity{}, err
	}

	s.mu.Lock()
	if !s.expired {
		s.identity = &id
	}
	s.mu.Unlock()
	return id, nil
}

// Do performs an authenticated request. payload (if non-nil) is sent as JSON;
// a 2xx body is decoded into out (if non-nil). Domain failures are translated
// into the lifecycle error taxonomy so callers handle API rejections and
// local pre-flight rejections identically.
func (s *Session) Do(ctx context.Context, method, path string, payload, out interface{}) error {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return ErrSessionExpired
	}
	access := s.tokens.Access
	refresh := s.tokens.Refresh
	s.mu.Unlock()
	if access == "" && refresh == "" {
		return ErrSessionExpired
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	// A store can hold only a refresh token, e.g. restored from disk after a
	// crash mid-rotation. Recover before the first attempt; the recovery
	// counts as this request's one refresh.
	recovered := false
	if access == "" {
		fresh, err := s.recoverAccess(ctx, "")
		if err != nil {
			s.teardown(err)
			return ErrSessionExpired
		}
		access = fresh
		recovered = true
	}

	resp, err := s.send(ctx, method, path, body, access)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return decodeResponse(resp, out)
	}
	drain(resp)

	if recovered {
		s.teardown(errors.New("access token rejected after refresh"))
		return ErrSessionExpired
	}

	// The access token was rejected. If another caller already refreshed,
	// reuse the rotated token; otherwise join (or start) the shared refresh.
	fresh, err := s.recoverAccess(ctx, access)
	if err != nil {
		s.teardown(err)
		return ErrSessionExpired
	}

	// Exactly one replay per request.
	resp, err = s.send(ctx, method, path, body, fresh)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		s.teardown(errors.New("access token rejected after refresh"))
		return ErrSessionExpired
	}
	return decodeResponse(resp, out)
}

func (s *Session) send(ctx context.Context, method, path string, body []byte, access string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+access)
	return s.httpc.Do(req)
}

// recoverAccess returns a usable access token after a 401. stale is the token
// the failed request carried: if the session already holds a different one,
// another caller's refresh landed in the meantime and we reuse it instead of
// rotating again.
func (s *Session) recoverAccess(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return "", errors.New("session already expired")
	}
	if s.tokens.Access != "" && s.tokens.Access != stale {
		access := s.tokens.Access
		s.mu.Unlock()
		return access, nil
	}
	refresh := s.tokens.Refresh
	s.mu.Unlock()

	if refresh == "" {
		return "", errors.New("no refresh token")
	}

	v, err, _ := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		return s.exchangeRefresh(ctx, refresh)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Session) exchangeRefresh(ctx context.Context, refresh string) (string, error) {
	// Re-check under the group: a queued caller may run after a refresh
	// that already rotated the pair.
	s.mu.Lock()
	if s.tokens.Refresh != refresh && s.tokens.Access != "" {
		access := s.tokens.Access
		s.mu.Unlock()
		return access, nil
	}
	s.mu.Unlock()

	body, err := json.Marshal(struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: refresh})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh rejected: status %d", resp.StatusCode)
	}

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}

	s.mu.Lock()
	s.tokens = Tokens{Access: out.AccessToken, Refresh: out.RefreshToken}
	s.mu.Unlock()

	if err := s.store.Save(Tokens{Access: out.AccessToken, Refresh: out.RefreshToken}); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// teardown permanently expires the session: tokens are wiped from memory and
// from the store, and the expiry callback fires once. Requests already in
// flight fail with their own errors; nothing is retried.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	already := s.expired
	s.expired = true
	s.tokens = Tokens{}
	s.identity = nil
	cb := s.onExpire
	s.mu.Unlock()

	s.store.Clear()
	if !already && cb != nil {
		cb(cause)
	}
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch resp.StatusCode {
	case http.StatusBadRequest:
		var ve lifecycle.ValidationError
		if json.Unmarshal(data, &ve) == nil && len(ve.Fields) > 0 {
			return &ve
		}
		return fmt.Errorf("bad request: %s", errorCode(data))
	case http.StatusForbidden:
		return lifecycle.ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return lifecycle.ErrInvalidTransition
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, errorCode(data))
	}
}

func errorCode(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
