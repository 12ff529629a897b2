package domain

import "time"

// Role names seeded at start-up. User.Role carries one of these as the primary tag.
const (
	RoleAdmin  = "ADMIN"
	RoleEditor = "EDITOR"
	RoleUser   = "USER"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

type CommentStatus string

const (
	CommentPending  CommentStatus = "PENDING"
	CommentApproved CommentStatus = "APPROVED"
	CommentRejected CommentStatus = "REJECTED"
)

// Valid reports whether s is a known comment status.
func (s CommentStatus) Valid() bool {
	switch s {
	case CommentPending, CommentApproved, CommentRejected:
		return true
	}
	return false
}

type VoteType string

const (
	VoteUp   VoteType = "UP"
	VoteDown VoteType = "DOWN"
)

func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

type ReportReason string

const (
	ReportSpam      ReportReason = "SPAM"
	ReportAbuse     ReportReason = "ABUSE"
	ReportOffensive ReportReason = "OFFENSIVE"
	ReportOther     ReportReason = "OTHER"
)

func (r ReportReason) Valid() bool {
	switch r {
	case ReportSpam, ReportAbuse, ReportOffensive, ReportOther:
		return true
	}
	return false
}

type User struct {
	ID                 int64              `json:"id"`
	Email              string             `json:"email"`
	Username           string             `json:"username"`
	PasswordHash       string             `json:"-"`
	Role               string             `json:"role"`
	IsActive           bool               `json:"isActive"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	InviteCode         string             `json:"inviteCode,omitempty"`
	LastLoginAt        *time.Time         `json:"lastLoginAt,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Comment struct {
	ID          int64         `json:"id"`
	Content     string        `json:"content"`
	ArticleID   int64         `json:"articleId"`
	AuthorID    int64         `json:"authorId"`
	ParentID    *int64        `json:"parentId,omitempty"`
	Status      CommentStatus `json:"status"`
	UpVotes     int           `json:"upvotes"`
	DownVotes   int           `json:"downvotes"`
	ReportCount int           `json:"reportCount"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type CommentVote struct {
	ID        int64     `json:"id"`
	CommentID int64     `json:"commentId"`
	UserID    int64     `json:"userId"`
	Type      VoteType  `json:"voteType"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CommentReport struct {
	ID          int64        `json:"id"`
	CommentID   int64        `json:"commentId"`
	UserID      int64        `json:"userId"`
	Reason      ReportReason `json:"reason"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// CommentStats aggregates comment counts by moderation state.
type CommentStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Reported int64 `json:"reported"`
}

// IPRecord is one row of the append-only request log. Ban state lives on the
// most recent row with IsBanned set.
type IPRecord struct {
	ID          int64      `json:"id"`
	IP          string     `json:"ip"`
	RequestTime time.Time  `json:"requestTime"`
	IsBanned    bool       `json:"isBanned"`
	BanReason   string     `json:"banReason,omitempty"`
	BanExpireAt *time.Time `json:"banExpireAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Sortable fields accepted by list queries.
const (
	SortID        = "id"
	SortName      = "name"
	SortCreatedAt = "createdAt"
	SortUpVotes   = "upvotes"
)

// ListQuery is a 1-based page request. SortBy must already be validated.
type ListQuery struct {
	Page     int
	PageSize int
	SortBy   string
	Desc     bool
}

func (q ListQuery) Offset() int { return (q.Page - 1) * q.PageSize }

// Page is one slice of a sorted listing.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
}

func NewPage[T any](items []T, total int64, q ListQuery) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if q.PageSize > 0 {
		pages = int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	}
	return Page[T]{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize, TotalPages: pages}
}

// CommentQuery selects the top-level comments of one article. An empty
// Status matches every status.
type CommentQuery struct {
	ArticleID int64
	Status    CommentStatus
	ListQuery
}

// CommentThread is a comment with its replies, oldest first.
type CommentThread struct {
	Comment
	Replies []CommentThread `json:"replies"`
}
