package store

import (
	"time"

	"blogcore/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	Email              string `gorm:"uniqueIndex:uq_users_email;not null"`
	Username           string `gorm:"uniqueIndex:uq_users_username;not null"`
	PasswordHash       string `gorm:"not null"`
	Role               string `gorm:"not null;default:USER"`
	IsActive           bool   `gorm:"not null;default:true"`
	VerificationStatus string `gorm:"not null;default:pending"`
	InviteCode         *string
	LastLoginAt        *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type RoleModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"uniqueIndex:uq_roles_name;not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null"`
}

func (RoleModel) TableName() string { return "roles" }

type PermissionModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"uniqueIndex:uq_permissions_name;not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null"`
}

func (PermissionModel) TableName() string { return "permissions" }

type UserRoleModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"uniqueIndex:uq_user_roles_pair;not null"`
	RoleID    int64     `gorm:"uniqueIndex:uq_user_roles_pair;not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (UserRoleModel) TableName() string { return "user_roles" }

type RolePermissionModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	RoleID       int64     `gorm:"uniqueIndex:uq_role_permissions_pair;not null"`
	PermissionID int64     `gorm:"uniqueIndex:uq_role_permissions_pair;not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (RolePermissionModel) TableName() string { return "role_permissions" }

type CommentModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Content     string    `gorm:"type:text;not null"`
	ArticleID   int64     `gorm:"not null;index"`
	AuthorID    int64     `gorm:"not null;index"`
	ParentID    *int64    `gorm:"index"`
	Status      string    `gorm:"not null;default:PENDING;index"`
	UpVotes     int       `gorm:"column:upvotes;not null;default:0"`
	DownVotes   int       `gorm:"column:downvotes;not null;default:0"`
	ReportCount int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (CommentModel) TableName() string { return "comments" }

type CommentVoteModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	CommentID int64     `gorm:"uniqueIndex:uq_comment_votes_pair;not null"`
	UserID    int64     `gorm:"uniqueIndex:uq_comment_votes_pair;not null;index"`
	VoteType  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (CommentVoteModel) TableName() string { return "comment_votes" }

type CommentReportModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	CommentID   int64     `gorm:"uniqueIndex:uq_comment_reports_pair;not null"`
	UserID      int64     `gorm:"uniqueIndex:uq_comment_reports_pair;not null;index"`
	Reason      string    `gorm:"not null"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (CommentReportModel) TableName() string { return "comment_reports" }

type IPRecordModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	IP          string    `gorm:"column:ip_address;not null;index:idx_ip_records_ip_time,priority:1"`
	RequestTime time.Time `gorm:"not null;index:idx_ip_records_ip_time,priority:2"`
	IsBanned    bool      `gorm:"not null;default:false"`
	BanReason   *string
	BanExpireAt *time.Time `gorm:"column:ban_expires_at"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

func (IPRecordModel) TableName() string { return "ip_records" }

func userToModel(u domain.User) UserModel {
	var invite *string
	if u.InviteCode != "" {
		code := u.InviteCode
		invite = &code
	}
	return UserModel{
		ID:                 u.ID,
		Email:              u.Email,
		Username:           u.Username,
		PasswordHash:       u.PasswordHash,
		Role:               u.Role,
		IsActive:           u.IsActive,
		VerificationStatus: string(u.VerificationStatus),
		InviteCode:         invite,
		LastLoginAt:        u.LastLoginAt,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	u := domain.User{
		ID:                 m.ID,
		Email:              m.Email,
		Username:           m.Username,
		PasswordHash:       m.PasswordHash,
		Role:               m.Role,
		IsActive:           m.IsActive,
		VerificationStatus: domain.VerificationStatus(m.VerificationStatus),
		LastLoginAt:        m.LastLoginAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
	if m.InviteCode != nil {
		u.InviteCode = *m.InviteCode
	}
	return u
}

func roleFromModel(m RoleModel) domain.Role {
	return domain.Role{ID: m.ID, Name: m.Name, Description: m.Description, CreatedAt: m.CreatedAt}
}

func permissionFromModel(m PermissionModel) domain.Permission {
	return domain.Permission{ID: m.ID, Name: m.Name, Description: m.Description, CreatedAt: m.CreatedAt}
}

func commentToModel(c domain.Comment) CommentModel {
	return CommentModel{
		ID:          c.ID,
		Content:     c.Content,
		ArticleID:   c.ArticleID,
		AuthorID:    c.AuthorID,
		ParentID:    c.ParentID,
		Status:      string(c.Status),
		UpVotes:     c.UpVotes,
		DownVotes:   c.DownVotes,
		ReportCount: c.ReportCount,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func commentFromModel(m CommentModel) domain.Comment {
	return domain.Comment{
		ID:          m.ID,
		Content:     m.Content,
		ArticleID:   m.ArticleID,
		AuthorID:    m.AuthorID,
		ParentID:    m.ParentID,
		Status:      domain.CommentStatus(m.Status),
		UpVotes:     m.UpVotes,
		DownVotes:   m.DownVotes,
		ReportCount: m.ReportCount,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func voteFromModel(m CommentVoteModel) domain.CommentVote {
	return domain.CommentVote{
		ID:        m.ID,
		CommentID: m.CommentID,
		UserID:    m.UserID,
		Type:      domain.VoteType(m.VoteType),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func reportFromModel(m CommentReportModel) domain.CommentReport {
	return domain.CommentReport{
		ID:          m.ID,
		CommentID:   m.CommentID,
		UserID:      m.UserID,
		Reason:      domain.ReportReason(m.Reason),
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func ipRecordFromModel(m IPRecordModel) domain.IPRecord {
	rec := domain.IPRecord{
		ID:          m.ID,
		IP:          m.IP,
		RequestTime: m.RequestTime,
		IsBanned:    m.IsBanned,
		BanExpireAt: m.BanExpireAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.BanReason != nil {
		rec.BanReason = *m.BanReason
	}
	return rec
}
