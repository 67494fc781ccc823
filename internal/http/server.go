package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"aits/tracker/internal/auth"
	"aits/tracker/internal/config"
	"aits/tracker/internal/crypto"
	"aits/tracker/internal/lifecycle"
	"aits/tracker/internal/model"
	"aits/tracker/internal/notify"
	"aits/tracker/internal/repository"
)

const unreadCountTTL = 5 * time.Minute

type Server struct {
	cfg   config.Config
	store *repository.Store
	redis *redis.Client
}

func NewServer(cfg config.Config, store *repository.Store, redisClient *redis.Client) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		redis: redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.Route("/issues", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.handleListIssues)
		r.Post("/", s.handleCreateIssue)
		r.Get("/{issueId}", s.handleGetIssue)
		r.Patch("/{issueId}", s.handlePatchIssue)
		r.Post("/{issueId}/attachments", s.handleAppendAttachment)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.handleListNotifications)
		r.Get("/unread", s.handleUnreadCount)
		r.Post("/{notificationId}/read", s.handleMarkNotificationRead)
	})

	return r
}

// Auth

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	User         model.Identity `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         identityOf(user),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}

	session, err := s.store.GetRefreshSession(r.Context(), crypto.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if session.RevokedAt != nil || session.ExpiresAt.Before(time.Now().UTC()) {
		writeError(w, http.StatusUnauthorized, "refresh_token_expired")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user_not_found")
		return
	}

	// Rotate: the presented refresh token is single-use.
	if err := s.store.RevokeRefreshSession(r.Context(), session.ID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	refreshExchanges.Inc()
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         identityOf(user),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	_ = s.store.RevokeRefreshSessionsByUser(r.Context(), claims.UserID, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	user, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, identityOf(user))
}

func (s *Server) issueTokens(ctx context.Context, user model.User, userAgent, ip string) (string, string, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		return "", "", err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	session := model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if userAgent != "" {
		session.UserAgent = &userAgent
	}
	if ip != "" {
		session.IPAddress = &ip
	}
	if err := s.store.CreateRefreshSession(ctx, session); err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func identityOf(user model.User) model.Identity {
	return model.Identity{
		UserID:    user.ID,
		Role:      user.Role,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

// Issues

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	filter, errCode := scopedFilter(claims, r.URL.Query().Get("status"), r.URL.Query().Get("category"), r.URL.Query().Get("priority"))
	if errCode != "" {
		writeError(w, http.StatusBadRequest, errCode)
		return
	}

	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if issues == nil {
		issues = []model.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

// scopedFilter narrows listings to the caller's scope: students see their own
// reports, lecturers their assignments, admins everything.
func scopedFilter(claims *auth.Claims, status, category, priority string) (repository.IssueFilter, string) {
	filter := repository.IssueFilter{}
	switch claims.Role {
	case model.RoleStudent:
		filter.ReporterID = claims.UserID
	case model.RoleLecturer:
		filter.AssignedLecturerID = claims.UserID
		filter.IncludeSubmittedPool = true
	case model.RoleAdmin:
	default:
		return filter, "unknown_role"
	}
	if status != "" {
		parsed, ok := model.ParseStatus(status)
		if !ok {
			return filter, "invalid_status"
		}
		filter.Status = string(parsed)
	}
	if category != "" {
		parsed, ok := model.ParseCategory(category)
		if !ok {
			return filter, "invalid_category"
		}
		filter.Category = string(parsed)
	}
	if priority != "" {
		parsed, ok := model.ParsePriority(priority)
		if !ok {
			return filter, "invalid_priority"
		}
		filter.Priority = string(parsed)
	}
	return filter, ""
}

func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.Role != model.RoleStudent {
		writeError(w, http.StatusForbidden, "student_only")
		return
	}

	var draft lifecycle.Draft
	if err := decodeJSON(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := lifecycle.ValidateDraft(draft); err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	issue := model.Issue{
		ID:          uuid.NewString(),
		ReporterID:  claims.UserID,
		Title:       strings.TrimSpace(draft.Title),
		Description: strings.TrimSpace(draft.Description),
		Academic:    draft.Academic,
		Category:    draft.Category,
		Priority:    draft.Priority,
		Status:      model.StatusSubmitted,
		Attachments: []string{},
		ReportedAt:  now,
		UpdatedAt:   now,
	}

	actor := lifecycle.Actor{UserID: claims.UserID, Role: claims.Role}
	err := s.store.WithTx(r.Context(), func(q *repository.Store) error {
		if err := q.CreateIssue(r.Context(), issue); err != nil {
			return err
		}
		adminIDs, err := q.ListAdminIDs(r.Context())
		if err != nil {
			return err
		}
		notifications := notify.Generate(nil, issue, actor, adminIDs, now)
		if err := q.CreateNotifications(r.Context(), notifications); err != nil {
			return err
		}
		s.invalidateUnreadCounts(r.Context(), notifications)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	issueID := chi.URLParam(r, "issueId")
	if issueID == "" {
		writeError(w, http.StatusBadRequest, "missing_issue_id")
		return
	}

	issue, err := s.store.GetIssue(r.Context(), issueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "issue_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !inScope(claims, issue) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func inScope(claims *auth.Claims, issue model.Issue) bool {
	switch claims.Role {
	case model.RoleStudent:
		return issue.ReporterID == claims.UserID
	case model.RoleLecturer:
		return issue.AssignedLecturerID == claims.UserID || issue.Status == model.StatusSubmitted
	case model.RoleAdmin:
		return true
	default:
		return false
	}
}

type patchIssueRequest struct {
	Status             string `json:"status"`
	AssignedLecturerID string `json:"assignedLecturerId,omitempty"`
	ResolutionNotes    string `json:"resolutionNotes,omitempty"`
}

func (s *Server) handlePatchIssue(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	issueID := chi.URLParam(r, "issueId")
	if issueID == "" {
		writeError(w, http.StatusBadRequest, "missing_issue_id")
		return
	}

	var req patchIssueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	target, ok := model.ParseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	actor := lifecycle.Actor{UserID: claims.UserID, Role: claims.Role}
	transition := lifecycle.Request{
		Target:             target,
		AssignedLecturerID: strings.TrimSpace(req.AssignedLecturerID),
		ResolutionNotes:    strings.TrimSpace(req.ResolutionNotes),
	}

	now := time.Now().UTC()
	var updated model.Issue
	err := s.store.WithTx(r.Context(), func(q *repository.Store) error {
		current, err := q.GetIssueForUpdate(r.Context(), issueID)
		if err != nil {
			return err
		}
		next, err := lifecycle.Apply(actor, current, transition, now)
		if errors.Is(err, lifecycle.ErrNoOp) {
			// Duplicate submission after a retried request: confirm without
			// touching the row or generating notifications.
			updated = current
			return nil
		}
		if err != nil {
			return err
		}
		if err := q.UpdateIssue(r.Context(), next); err != nil {
			return err
		}
		notifications := notify.Generate(&current, next, actor, nil, now)
		if err := q.CreateNotifications(r.Context(), notifications); err != nil {
			return err
		}
		s.invalidateUnreadCounts(r.Context(), notifications)
		transitionsApplied.WithLabelValues(string(next.Status)).Inc()
		updated = next
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

type appendAttachmentRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleAppendAttachment(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	issueID := chi.URLParam(r, "issueId")
	if issueID == "" {
		writeError(w, http.StatusBadRequest, "missing_issue_id")
		return
	}

	var req appendAttachmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing_url")
		return
	}

	issue, err := s.store.GetIssue(r.Context(), issueID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "issue_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	allowed := claims.Role == model.RoleAdmin ||
		claims.UserID == issue.ReporterID ||
		(claims.Role == model.RoleLecturer && claims.UserID == issue.AssignedLecturerID)
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	updated, err := s.store.AppendAttachment(r.Context(), issueID, req.URL, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Notifications

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	notifications, err := s.store.ListNotificationsByRecipient(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	notificationID := chi.URLParam(r, "notificationId")
	if notificationID == "" {
		writeError(w, http.StatusBadRequest, "missing_notification_id")
		return
	}

	marked, err := s.store.MarkNotificationRead(r.Context(), notificationID, claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !marked {
		writeError(w, http.StatusNotFound, "notification_not_found")
		return
	}
	s.dropUnreadCount(r.Context(), claims.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	if s.redis != nil {
		if cached, err := s.redis.Get(r.Context(), unreadCountKey(claims.UserID)).Int64(); err == nil {
			writeJSON(w, http.StatusOK, map[string]int64{"count": cached})
			return
		}
	}

	count, err := s.store.CountUnreadNotifications(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if s.redis != nil {
		_ = s.redis.Set(r.Context(), unreadCountKey(claims.UserID), count, unreadCountTTL).Err()
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func unreadCountKey(userID string) string {
	return "notifications:unread:" + userID
}

func (s *Server) invalidateUnreadCounts(ctx context.Context, notifications []model.Notification) {
	if s.redis == nil {
		return
	}
	for _, n := range notifications {
		_ = s.redis.Del(ctx, unreadCountKey(n.RecipientID)).Err()
	}
}

func (s *Server) dropUnreadCount(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	_ = s.redis.Del(ctx, unreadCountKey(userID)).Err()
}

// Middleware and helpers

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var verr *lifecycle.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr)
	case errors.Is(err, lifecycle.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition")
	case errors.Is(err, pgx.ErrNoRows):
		writeError(w, http.StatusNotFound, "issue_not_found")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}
