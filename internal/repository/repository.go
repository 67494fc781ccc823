package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"aits/tracker/internal/model"
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	db   querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, databaseURL)
}

// WithTx runs fn against a transaction-scoped store. The issue PATCH path
// uses it so the row lock, the update, and the generated notifications commit
// together.
func (s *Store) WithTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(&Store{pool: s.pool, db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Users

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role, user.CreatedAt, user.UpdatedAt)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, role, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	return s.scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, first_name, last_name, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID))
}

func (s *Store) scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

// ListAdminIDs returns the triage pool for new-issue notifications.
func (s *Store) ListAdminIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM users WHERE role = $1`, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Refresh sessions

func (s *Store) CreateRefreshSession(ctx context.Context, session model.RefreshSession) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_token_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return err
}

func (s *Store) GetRefreshSession(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var session model.RefreshSession
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
		FROM refresh_token_sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt, &session.UserAgent, &session.IPAddress)
	return session, err
}

func (s *Store) RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE refresh_token_sessions SET revoked_at = $1 WHERE id = $2`, revokedAt, sessionID)
	return err
}

func (s *Store) RevokeRefreshSessionsByUser(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE refresh_token_sessions
		SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL
	`, revokedAt, userID)
	return err
}

// Issues

const issueColumns = `
	id, reporter_id, title, description,
	college, program, year_of_study, semester, course_unit, course_code,
	category, priority, status, assigned_lecturer_id, resolution_notes,
	attachments, reported_at, updated_at
`

func (s *Store) CreateIssue(ctx context.Context, issue model.Issue) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		issue.ID, issue.ReporterID, issue.Title, issue.Description,
		issue.Academic.College, issue.Academic.Program, issue.Academic.YearOfStudy, issue.Academic.Semester,
		issue.Academic.CourseUnit, issue.Academic.CourseCode,
		issue.Category, issue.Priority, issue.Status, issue.AssignedLecturerID, issue.ResolutionNotes,
		issue.Attachments, issue.ReportedAt, issue.UpdatedAt,
	)
	return err
}

func (s *Store) GetIssue(ctx context.Context, issueID string) (model.Issue, error) {
	return scanIssue(s.db.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, issueID))
}

// GetIssueForUpdate locks the row for the duration of the surrounding
// transaction so concurrent transitions for one issue serialize.
func (s *Store) GetIssueForUpdate(ctx context.Context, issueID string) (model.Issue, error) {
	return scanIssue(s.db.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1 FOR UPDATE`, issueID))
}

func (s *Store) UpdateIssue(ctx context.Context, issue model.Issue) error {
	_, err := s.db.Exec(ctx, `
		UPDATE issues
		SET status = $1, assigned_lecturer_id = $2, resolution_notes = $3, updated_at = $4
		WHERE id = $5
	`, issue.Status, issue.AssignedLecturerID, issue.ResolutionNotes, issue.UpdatedAt, issue.ID)
	return err
}

func (s *Store) AppendAttachment(ctx context.Context, issueID, url string, updatedAt time.Time) (model.Issue, error) {
	return scanIssue(s.db.QueryRow(ctx, `
		UPDATE issues
		SET attachments = array_append(attachments, $1), updated_at = $2
		WHERE id = $3
		RETURNING `+issueColumns+`
	`, url, updatedAt, issueID))
}

// IssueFilter narrows a scoped listing. Empty fields are ignored.
// IncludeSubmittedPool widens an assignee match to also return unassigned
// submitted issues, so lecturers can browse the pickup pool.
type IssueFilter struct {
	ReporterID           string
	AssignedLecturerID   string
	IncludeSubmittedPool bool
	Status               string
	Category             string
	Priority             string
}

func (s *Store) ListIssues(ctx context.Context, filter IssueFilter) ([]model.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE 1=1`
	var args []any
	add := func(clause, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		query += clause + "$" + strconv.Itoa(len(args))
	}
	add(` AND reporter_id = `, filter.ReporterID)
	if filter.AssignedLecturerID != "" && filter.IncludeSubmittedPool {
		args = append(args, filter.AssignedLecturerID, string(model.StatusSubmitted))
		query += ` AND (assigned_lecturer_id = $` + strconv.Itoa(len(args)-1) +
			` OR (status = $` + strconv.Itoa(len(args)) + ` AND assigned_lecturer_id = ''))`
	} else {
		add(` AND assigned_lecturer_id = `, filter.AssignedLecturerID)
	}
	add(` AND status = `, filter.Status)
	add(` AND category = `, filter.Category)
	add(` AND priority = `, filter.Priority)
	query += ` ORDER BY reported_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func scanIssue(row pgx.Row) (model.Issue, error) {
	var issue model.Issue
	err := row.Scan(
		&issue.ID, &issue.ReporterID, &issue.Title, &issue.Description,
		&issue.Academic.College, &issue.Academic.Program, &issue.Academic.YearOfStudy, &issue.Academic.Semester,
		&issue.Academic.CourseUnit, &issue.Academic.CourseCode,
		&issue.Category, &issue.Priority, &issue.Status, &issue.AssignedLecturerID, &issue.ResolutionNotes,
		&issue.Attachments, &issue.ReportedAt, &issue.UpdatedAt,
	)
	return issue, err
}

// Notifications

func (s *Store) CreateNotifications(ctx context.Context, notifications []model.Notification) error {
	for _, n := range notifications {
		_, err := s.db.Exec(ctx, `
			INSERT INTO notifications (id, recipient_id, related_issue_id, kind, message, is_read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, n.ID, n.RecipientID, n.RelatedIssueID, n.Kind, n.Message, n.IsRead, n.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListNotificationsByRecipient(ctx context.Context, recipientID string) ([]model.Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, recipient_id, related_issue_id, kind, message, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
	`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.RelatedIssueID, &n.Kind, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flips the read flag for the recipient's own
// notification. It reports whether a row matched.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID, recipientID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1 AND recipient_id = $2
	`, notificationID, recipientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = false
	`, recipientID).Scan(&count)
	return count, err
}
