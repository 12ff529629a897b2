package store

import (
	"context"
	"errors"
	"time"

	"blogcore/pkg/domain"
)

var (
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
	// ErrDuplicateEmail and ErrDuplicateUsername refine ErrDuplicate for users.
	ErrDuplicateEmail    = errors.New("duplicate email")
	ErrDuplicateUsername = errors.New("duplicate username")
	// ErrNotFound reports a missing row on update or delete.
	ErrNotFound = errors.New("record not found")
)

// Store defines persistence operations for users, RBAC, comments and the IP log.
// Every call joins the transaction carried by ctx, if any.
type Store interface {
	TxBeginner

	// users
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	DeleteUser(ctx context.Context, id int64) error

	// rbac
	EnsureRole(ctx context.Context, name, description string) (domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (domain.Role, bool, error)
	EnsurePermission(ctx context.Context, name, description string) (domain.Permission, error)
	GetRoleByID(ctx context.Context, id int64) (domain.Role, bool, error)
	CreateRole(ctx context.Context, name, description string) (domain.Role, error)
	UpdateRole(ctx context.Context, r domain.Role) (domain.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListRoles(ctx context.Context, q domain.ListQuery) ([]domain.Role, int64, error)
	GetPermissionByID(ctx context.Context, id int64) (domain.Permission, bool, error)
	GetPermissionByName(ctx context.Context, name string) (domain.Permission, bool, error)
	CreatePermission(ctx context.Context, name, description string) (domain.Permission, error)
	UpdatePermission(ctx context.Context, p domain.Permission) (domain.Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context, q domain.ListQuery) ([]domain.Permission, int64, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) error
	HasUserRole(ctx context.Context, userID, roleID int64) (bool, error)
	AddUserRole(ctx context.Context, userID, roleID int64) error
	RemoveUserRole(ctx context.Context, userID, roleID int64) error
	ListUserRoleNames(ctx context.Context, userID int64) ([]string, error)
	ListRolePermissionNames(ctx context.Context, roleName string) ([]string, error)

	// comments
	CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error)
	GetComment(ctx context.Context, id int64) (domain.Comment, bool, error)
	LockComment(ctx context.Context, id int64) (domain.Comment, bool, error)
	SetCommentStatus(ctx context.Context, id int64, status domain.CommentStatus) error
	UpdateCommentContent(ctx context.Context, id int64, content string) error
	// ListRootComments pages the top-level comments of an article.
	ListRootComments(ctx context.Context, q domain.CommentQuery) ([]domain.Comment, int64, error)
	// ListReplies returns every reply in an article, oldest first.
	ListReplies(ctx context.Context, articleID int64, status domain.CommentStatus) ([]domain.Comment, error)
	DeleteComment(ctx context.Context, id int64) error
	AdjustCommentVotes(ctx context.Context, id int64, upDelta, downDelta int) error
	IncrementCommentReports(ctx context.Context, id int64) error
	CommentStatistics(ctx context.Context) (domain.CommentStats, error)

	// votes
	GetCommentVote(ctx context.Context, commentID, userID int64) (domain.CommentVote, bool, error)
	CreateCommentVote(ctx context.Context, v domain.CommentVote) (domain.CommentVote, error)
	UpdateCommentVoteType(ctx context.Context, id int64, t domain.VoteType) error
	DeleteCommentVote(ctx context.Context, id int64) error
	CountCommentVotes(ctx context.Context, commentID int64) (up, down int, err error)

	// reports
	GetCommentReport(ctx context.Context, commentID, userID int64) (domain.CommentReport, bool, error)
	CreateCommentReport(ctx context.Context, r domain.CommentReport) (domain.CommentReport, error)
	UpdateCommentReport(ctx context.Context, id int64, reason domain.ReportReason, description string) error

	// ip log
	LatestIPBan(ctx context.Context, ip string) (domain.IPRecord, bool, error)
	AppendIPRecord(ctx context.Context, ip string, at time.Time) error
	CountIPRecordsSince(ctx context.Context, ip string, since time.Time) (int64, error)
	BanIP(ctx context.Context, ip, reason string, until time.Time) error
	ClearIPBan(ctx context.Context, ip string) error
}
