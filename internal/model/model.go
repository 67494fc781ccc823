package model

import "time"

type Role string

const (
	RoleStudent  Role = "student"
	RoleLecturer Role = "lecturer"
	RoleAdmin    Role = "admin"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleStudent, RoleLecturer, RoleAdmin:
		return Role(raw), true
	default:
		return "", false
	}
}

type Status string

const (
	StatusSubmitted          Status = "Submitted"
	StatusAssigned           Status = "Assigned"
	StatusInProgress         Status = "InProgress"
	StatusPendingInformation Status = "PendingInformation"
	StatusResolved           Status = "Resolved"
	StatusClosed             Status = "Closed"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusSubmitted, StatusAssigned, StatusInProgress, StatusPendingInformation, StatusResolved, StatusClosed:
		return Status(raw), true
	default:
		return "", false
	}
}

type Category string

const (
	CategoryAcademic   Category = "Academic"
	CategoryDiscipline Category = "Discipline"
	CategoryFinancial  Category = "Financial"
	CategoryOther      Category = "Other"
)

func ParseCategory(raw string) (Category, bool) {
	switch Category(raw) {
	case CategoryAcademic, CategoryDiscipline, CategoryFinancial, CategoryOther:
		return Category(raw), true
	default:
		return "", false
	}
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

func ParsePriority(raw string) (Priority, bool) {
	switch Priority(raw) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(raw), true
	default:
		return "", false
	}
}

type AcademicContext struct {
	College     string `json:"college"`
	Program     string `json:"program"`
	YearOfStudy int    `json:"yearOfStudy"`
	Semester    int    `json:"semester"`
	CourseUnit  string `json:"courseUnit"`
	CourseCode  string `json:"courseCode"`
}

type Issue struct {
	ID                 string          `json:"id"`
	ReporterID         string          `json:"reporterId"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Academic           AcademicContext `json:"academicContext"`
	Category           Category        `json:"category"`
	Priority           Priority        `json:"priority"`
	Status             Status          `json:"status"`
	AssignedLecturerID string          `json:"assignedLecturerId,omitempty"`
	ResolutionNotes    string          `json:"resolutionNotes,omitempty"`
	Attachments        []string        `json:"attachments,omitempty"`
	ReportedAt         time.Time       `json:"reportedAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type NotificationKind string

const (
	NotificationIssueCreated  NotificationKind = "IssueCreated"
	NotificationIssueAssigned NotificationKind = "IssueAssigned"
	NotificationStatusChanged NotificationKind = "StatusChanged"
	NotificationInfoRequested NotificationKind = "InfoRequested"
)

type Notification struct {
	ID             string           `json:"id"`
	RecipientID    string           `json:"recipientId"`
	RelatedIssueID string           `json:"relatedIssueId,omitempty"`
	Kind           NotificationKind `json:"kind"`
	Message        string           `json:"message"`
	IsRead         bool             `json:"isRead"`
	CreatedAt      time.Time        `json:"createdAt"`
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the resolved view of the authenticated caller.
type Identity struct {
	UserID    string `json:"id"`
	Role      Role   `json:"role"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}
