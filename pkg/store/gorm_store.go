package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"blogcore/pkg/domain"
)

const migrateLockID int64 = 51825182

const pgUniqueViolation = "23505"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&RoleModel{},
			&PermissionModel{},
			&UserRoleModel{},
			&RolePermissionModel{},
			&CommentModel{},
			&CommentVoteModel{},
			&CommentReportModel{},
			&IPRecordModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		for _, fk := range cascadeForeignKeys {
			if err := ensureForeignKey(tx, fk); err != nil {
				return fmt.Errorf("ensure foreign key %s: %w", fk.name, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

type foreignKey struct {
	name      string
	table     string
	column    string
	refTable  string
	refColumn string
}

var cascadeForeignKeys = []foreignKey{
	{"user_roles_user_id_fkey", "user_roles", "user_id", "users", "id"},
	{"user_roles_role_id_fkey", "user_roles", "role_id", "roles", "id"},
	{"role_permissions_role_id_fkey", "role_permissions", "role_id", "roles", "id"},
	{"role_permissions_permission_id_fkey", "role_permissions", "permission_id", "permissions", "id"},
	{"comments_author_id_fkey", "comments", "author_id", "users", "id"},
	{"comments_parent_id_fkey", "comments", "parent_id", "comments", "id"},
	{"comment_votes_comment_id_fkey", "comment_votes", "comment_id", "comments", "id"},
	{"comment_votes_user_id_fkey", "comment_votes", "user_id", "users", "id"},
	{"comment_reports_comment_id_fkey", "comment_reports", "comment_id", "comments", "id"},
	{"comment_reports_user_id_fkey", "comment_reports", "user_id", "users", "id"},
}

func ensureForeignKey(tx *gorm.DB, fk foreignKey) error {
	return tx.Exec(fmt.Sprintf(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = '%[2]s'
				AND constraint_name = '%[1]s'
			) THEN
				ALTER TABLE %[2]s
				ADD CONSTRAINT %[1]s
				FOREIGN KEY (%[3]s) REFERENCES %[4]s(%[5]s) ON DELETE CASCADE;
			END IF;
		END $$;
	`, fk.name, fk.table, fk.column, fk.refTable, fk.refColumn)).Error
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db    *gorm.DB
	owner *GormStore
}

func (t *gormTx) Commit() error   { return t.db.Commit().Error }
func (t *gormTx) Rollback() error { return t.db.Rollback().Error }

// BeginTx opens a database transaction bound to ctx; cancelling ctx rolls it back.
func (s *GormStore) BeginTx(ctx context.Context) (Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{db: tx, owner: s}, nil
}

// conn returns the ambient transaction when ctx carries one of ours.
func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := CurrentTx(ctx); ok {
		if gt, ok := tx.(*gormTx); ok && gt.owner == s {
			return gt.db.WithContext(ctx)
		}
	}
	return s.db.WithContext(ctx)
}

func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func first[M any](db *gorm.DB, conds ...any) (M, bool, error) {
	var model M
	if err := db.First(&model, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model, false, nil
		}
		return model, false, err
	}
	return model, true, nil
}

func affected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUser inserts a user; unique violations map to ErrDuplicateEmail/ErrDuplicateUsername.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	model.ID = 0
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return domain.User{}, userConflict(err)
	}
	return userFromModel(model), nil
}

// userConflict names which unique key a failed user write hit.
func userConflict(err error) error {
	name, ok := uniqueConstraint(err)
	if !ok {
		return err
	}
	switch name {
	case "uq_users_email":
		return ErrDuplicateEmail
	case "uq_users_username":
		return ErrDuplicateUsername
	}
	return ErrDuplicate
}

func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	m, ok, err := first[UserModel](s.conn(ctx), "id = ?", id)
	return userFromModel(m), ok, err
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	m, ok, err := first[UserModel](s.conn(ctx), "email = ?", email)
	return userFromModel(m), ok, err
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	m, ok, err := first[UserModel](s.conn(ctx), "username = ?", username)
	return userFromModel(m), ok, err
}

func (s *GormStore) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	return affected(s.conn(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(map[string]any{
		"password_hash": passwordHash,
		"updated_at":    time.Now().UTC(),
	}))
}

func (s *GormStore) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	return affected(s.conn(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(map[string]any{
		"last_login_at": at.UTC(),
		"updated_at":    time.Now().UTC(),
	}))
}

// DeleteUser removes a user. Vote and report counters on other users' comments
// are reverted first; the FK cascade removes the dependent rows.
func (s *GormStore) DeleteUser(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(db *gorm.DB) error {
		var votes []CommentVoteModel
		if err := db.Where("user_id = ?", id).Find(&votes).Error; err != nil {
			return err
		}
		for _, v := range votes {
			up, down := 0, 0
			if domain.VoteType(v.VoteType) == domain.VoteUp {
				up = -1
			} else {
				down = -1
			}
			if err := adjustVotes(db, v.CommentID, up, down); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		if err := db.Model(&CommentModel{}).
			Where("id IN (?)", db.Model(&CommentReportModel{}).Select("comment_id").Where("user_id = ?", id)).
			Update("report_count", gorm.Expr("GREATEST(report_count - 1, 0)")).Error; err != nil {
			return err
		}
		return affected(db.Delete(&UserModel{}, "id = ?", id))
	})
}

// inTx runs fn in the ambient transaction, or a local one when there is none.
func (s *GormStore) inTx(ctx context.Context, fn func(*gorm.DB) error) error {
	if InTransaction(ctx) {
		return fn(s.conn(ctx))
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *GormStore) EnsureRole(ctx context.Context, name, description string) (domain.Role, error) {
	db := s.conn(ctx)
	model := RoleModel{Name: name, Description: description, CreatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&model).Error; err != nil {
		return domain.Role{}, err
	}
	m, _, err := first[RoleModel](db, "name = ?", name)
	if err != nil {
		return domain.Role{}, err
	}
	return roleFromModel(m), nil
}

func (s *GormStore) GetRoleByName(ctx context.Context, name string) (domain.Role, bool, error) {
	m, ok, err := first[RoleModel](s.conn(ctx), "name = ?", name)
	return roleFromModel(m), ok, err
}

func (s *GormStore) EnsurePermission(ctx context.Context, name, description string) (domain.Permission, error) {
	db := s.conn(ctx)
	model := PermissionModel{Name: name, Description: description, CreatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&model).Error; err != nil {
		return domain.Permission{}, err
	}
	m, _, err := first[PermissionModel](db, "name = ?", name)
	if err != nil {
		return domain.Permission{}, err
	}
	return permissionFromModel(m), nil
}

func (s *GormStore) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	model := RolePermissionModel{RoleID: roleID, PermissionID: permissionID, CreatedAt: time.Now().UTC()}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role_id"}, {Name: "permission_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

func (s *GormStore) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	return s.conn(ctx).Delete(&RolePermissionModel{}, "role_id = ? AND permission_id = ?", roleID, permissionID).Error
}

func (s *GormStore) GetRoleByID(ctx context.Context, id int64) (domain.Role, bool, error) {
	m, ok, err := first[RoleModel](s.conn(ctx), "id = ?", id)
	return roleFromModel(m), ok, err
}

// CreateRole inserts a role; a taken name maps to ErrDuplicate.
func (s *GormStore) CreateRole(ctx context.Context, name, description string) (domain.Role, error) {
	model := RoleModel{Name: name, Description: description, CreatedAt: time.Now().UTC()}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domain.Role{}, ErrDuplicate
		}
		return domain.Role{}, err
	}
	return roleFromModel(model), nil
}

func (s *GormStore) UpdateRole(ctx context.Context, r domain.Role) (domain.Role, error) {
	db := s.conn(ctx)
	err := affected(db.Model(&RoleModel{}).Where("id = ?", r.ID).Updates(map[string]any{
		"name":        r.Name,
		"description": r.Description,
	}))
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domain.Role{}, ErrDuplicate
		}
		return domain.Role{}, err
	}
	m, _, err := first[RoleModel](db, "id = ?", r.ID)
	return roleFromModel(m), err
}

// DeleteRole removes a role; its user and permission links follow via cascade.
func (s *GormStore) DeleteRole(ctx context.Context, id int64) error {
	return affected(s.conn(ctx).Delete(&RoleModel{}, "id = ?", id))
}

func (s *GormStore) ListRoles(ctx context.Context, q domain.ListQuery) ([]domain.Role, int64, error) {
	db := s.conn(ctx)
	var total int64
	if err := db.Model(&RoleModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []RoleModel
	if err := paged(db, q).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Role, 0, len(models))
	for _, m := range models {
		out = append(out, roleFromModel(m))
	}
	return out, total, nil
}

func (s *GormStore) GetPermissionByID(ctx context.Context, id int64) (domain.Permission, bool, error) {
	m, ok, err := first[PermissionModel](s.conn(ctx), "id = ?", id)
	return permissionFromModel(m), ok, err
}

func (s *GormStore) GetPermissionByName(ctx context.Context, name string) (domain.Permission, bool, error) {
	m, ok, err := first[PermissionModel](s.conn(ctx), "name = ?", name)
	return permissionFromModel(m), ok, err
}

func (s *GormStore) CreatePermission(ctx context.Context, name, description string) (domain.Permission, error) {
	model := PermissionModel{Name: name, Description: description, CreatedAt: time.Now().UTC()}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domain.Permission{}, ErrDuplicate
		}
		return domain.Permission{}, err
	}
	return permissionFromModel(model), nil
}

func (s *GormStore) UpdatePermission(ctx context.Context, p domain.Permission) (domain.Permission, error) {
	db := s.conn(ctx)
	err := affected(db.Model(&PermissionModel{}).Where("id = ?", p.ID).Updates(map[string]any{
		"name":        p.Name,
		"description": p.Description,
	}))
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domain.Permission{}, ErrDuplicate
		}
		return domain.Permission{}, err
	}
	m, _, err := first[PermissionModel](db, "id = ?", p.ID)
	return permissionFromModel(m), err
}

func (s *GormStore) DeletePermission(ctx context.Context, id int64) error {
	return affected(s.conn(ctx).Delete(&PermissionModel{}, "id = ?", id))
}

func (s *GormStore) ListPermissions(ctx context.Context, q domain.ListQuery) ([]domain.Permission, int64, error) {
	db := s.conn(ctx)
	var total int64
	if err := db.Model(&PermissionModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []PermissionModel
	if err := paged(db, q).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Permission, 0, len(models))
	for _, m := range models {
		out = append(out, permissionFromModel(m))
	}
	return out, total, nil
}

var sortColumns = map[string]string{
	domain.SortID:        "id",
	domain.SortName:      "name",
	domain.SortCreatedAt: "created_at",
	domain.SortUpVotes:   "upvotes",
}

// paged applies ORDER BY, LIMIT and OFFSET. Unknown sort keys fall back to id;
// id breaks ties so pages never overlap.
func paged(db *gorm.DB, q domain.ListQuery) *gorm.DB {
	col, ok := sortColumns[q.SortBy]
	if !ok {
		col = "id"
	}
	db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: q.Desc})
	if col != "id" {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: q.Desc})
	}
	return db.Limit(q.PageSize).Offset(q.Offset())
}

func (s *GormStore) HasUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	var count int64
	if err := s.conn(ctx).Model(&UserRoleModel{}).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) AddUserRole(ctx context.Context, userID, roleID int64) error {
	model := UserRoleModel{UserID: userID, RoleID: roleID, CreatedAt: time.Now().UTC()}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *GormStore) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	return s.conn(ctx).Delete(&UserRoleModel{}, "user_id = ? AND role_id = ?", userID, roleID).Error
}

func (s *GormStore) ListUserRoleNames(ctx context.Context, userID int64) ([]string, error) {
	names := make([]string, 0)
	err := s.conn(ctx).Model(&RoleModel{}).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name ASC").
		Pluck("roles.name", &names).Error
	return names, err
}

func (s *GormStore) ListRolePermissionNames(ctx context.Context, roleName string) ([]string, error) {
	names := make([]string, 0)
	err := s.conn(ctx).Model(&PermissionModel{}).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Joins("JOIN roles ON roles.id = role_permissions.role_id").
		Where("roles.name = ?", roleName).
		Order("permissions.name ASC").
		Pluck("permissions.name", &names).Error
	return names, err
}

func (s *GormStore) CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	model := commentToModel(c)
	model.ID = 0
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		return domain.Comment{}, err
	}
	return commentFromModel(model), nil
}

func (s *GormStore) GetComment(ctx context.Context, id int64) (domain.Comment, bool, error) {
	m, ok, err := first[CommentModel](s.conn(ctx), "id = ?", id)
	return commentFromModel(m), ok, err
}

// LockComment reads the comment with SELECT ... FOR UPDATE.
func (s *GormStore) LockComment(ctx context.Context, id int64) (domain.Comment, bool, error) {
	db := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	m, ok, err := first[CommentModel](db, "id = ?", id)
	return commentFromModel(m), ok, err
}

func (s *GormStore) SetCommentStatus(ctx context.Context, id int64, status domain.CommentStatus) error {
	return affected(s.conn(ctx).Model(&CommentModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}))
}

func (s *GormStore) UpdateCommentContent(ctx context.Context, id int64, content string) error {
	return affected(s.conn(ctx).Model(&CommentModel{}).Where("id = ?", id).Updates(map[string]any{
		"content":    content,
		"updated_at": time.Now().UTC(),
	}))
}

func (s *GormStore) ListRootComments(ctx context.Context, q domain.CommentQuery) ([]domain.Comment, int64, error) {
	db := s.conn(ctx).Model(&CommentModel{}).Where("article_id = ? AND parent_id IS NULL", q.ArticleID)
	if q.Status != "" {
		db = db.Where("status = ?", string(q.Status))
	}
	db = db.Session(&gorm.Session{})
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []CommentModel
	if err := paged(db, q.ListQuery).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return commentsFromModels(models), total, nil
}

func (s *GormStore) ListReplies(ctx context.Context, articleID int64, status domain.CommentStatus) ([]domain.Comment, error) {
	db := s.conn(ctx).Where("article_id = ? AND parent_id IS NOT NULL", articleID)
	if status != "" {
		db = db.Where("status = ?", string(status))
	}
	var models []CommentModel
	if err := db.Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return commentsFromModels(models), nil
}

func commentsFromModels(models []CommentModel) []domain.Comment {
	out := make([]domain.Comment, 0, len(models))
	for _, m := range models {
		out = append(out, commentFromModel(m))
	}
	return out
}

// DeleteComment removes a comment; replies, votes and reports follow via cascade.
func (s *GormStore) DeleteComment(ctx context.Context, id int64) error {
	return affected(s.conn(ctx).Delete(&CommentModel{}, "id = ?", id))
}

// AdjustCommentVotes applies both counter deltas in one UPDATE.
func (s *GormStore) AdjustCommentVotes(ctx context.Context, id int64, upDelta, downDelta int) error {
	return adjustVotes(s.conn(ctx), id, upDelta, downDelta)
}

func adjustVotes(db *gorm.DB, id int64, upDelta, downDelta int) error {
	return affected(db.Model(&CommentModel{}).Where("id = ?", id).Updates(map[string]any{
		"upvotes":    gorm.Expr("GREATEST(upvotes + ?, 0)", upDelta),
		"downvotes":  gorm.Expr("GREATEST(downvotes + ?, 0)", downDelta),
		"updated_at": time.Now().UTC(),
	}))
}

func (s *GormStore) IncrementCommentReports(ctx context.Context, id int64) error {
	return affected(s.conn(ctx).Model(&CommentModel{}).Where("id = ?", id).Updates(map[string]any{
		"report_count": gorm.Expr("report_count + 1"),
		"updated_at":   time.Now().UTC(),
	}))
}

func (s *GormStore) CommentStatistics(ctx context.Context) (domain.CommentStats, error) {
	var stats domain.CommentStats
	err := s.conn(ctx).Model(&CommentModel{}).Select(
		`COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = ?) AS pending,
		COUNT(*) FILTER (WHERE status = ?) AS approved,
		COUNT(*) FILTER (WHERE status = ?) AS rejected,
		COUNT(*) FILTER (WHERE report_count > 0) AS reported`,
		string(domain.CommentPending), string(domain.CommentApproved), string(domain.CommentRejected),
	).Scan(&stats).Error
	return stats, err
}

func (s *GormStore) GetCommentVote(ctx context.Context, commentID, userID int64) (domain.CommentVote, bool, error) {
	m, ok, err := first[CommentVoteModel](s.conn(ctx), "comment_id = ? AND user_id = ?", commentID, userID)
	return voteFromModel(m), ok, err
}

func (s *GormStore) CreateCommentVote(ctx context.Context, v domain.CommentVote) (domain.CommentVote, error) {
	now := time.Now().UTC()
	model := CommentVoteModel{
		CommentID: v.CommentID,
		UserID:    v.UserID,
		VoteType:  string(v.Type),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domain.CommentVote{}, ErrDuplicate
		}
		return domain.CommentVote{}, err
	}
	return voteFromModel(model), nil
}

func (s *GormStore) UpdateCommentVoteType(ctx context.Context, id int64, t domain.VoteType) error {
	return affected(s.conn(ctx).Model(&CommentVoteModel{}).Where("id = ?", id).Updates(map[string]any{
		"vote_type":  string(t),
		"updated_at": time.Now().UTC(),
	}))
}

func (s *GormStore) DeleteCommentVote(ctx context.Context, id int64) error {
	return affected(s.conn(ctx).Delete(&CommentVoteModel{}, "id = ?", id))
}

func (s *GormStore) CountCommentVotes(ctx context.Context, commentID int64) (int, int, error) {
	var row struct {
		Up   int
		Down int
	}
	err := s.conn(ctx).Model(&CommentVoteModel{}).Select(
		"COUNT(*) FILTER (WHERE vote_type = ?) AS up, COUNT(*) FILTER (WHERE vote_type = ?) AS down",
		string(domain.VoteUp), string(domain.VoteDown),
	).Where("comment_id = ?", commentID).Scan(&row).Error
	return row.Up, row.Down, err
}

func (s *GormStore) GetCommentReport(ctx context.Context, commentID, userID int64) (domain.CommentReport, bool, error) {
	m, ok, err := first[CommentReportModel](s.conn(ctx), "comment_id = ? AND user_id = ?", commentID, userID)
	return reportFromModel(m), ok, err
}

func (s *GormStore) CreateCommentReport(ctx context.Context, r domain.CommentReport) (domain.CommentReport, error) {
	now := time.Now().UTC()
	model := CommentReportModel{
		CommentID:   r.CommentID,
		UserID:      r.UserID,
		Reason:      string(r.Reason),
		Description: r.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.conn(ctx).Create(&model).Error; err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return domain.CommentReport{}, ErrDuplicate
		}
		return domain.CommentReport{}, err
	}
	return reportFromModel(model), nil
}

func (s *GormStore) UpdateCommentReport(ctx context.Context, id int64, reason domain.ReportReason, description string) error {
	return affected(s.conn(ctx).Model(&CommentReportModel{}).Where("id = ?", id).Updates(map[string]any{
		"reason":      string(reason),
		"description": description,
		"updated_at":  time.Now().UTC(),
	}))
}

func (s *GormStore) LatestIPBan(ctx context.Context, ip string) (domain.IPRecord, bool, error) {
	db := s.conn(ctx).Order("request_time DESC").Order("id DESC")
	m, ok, err := first[IPRecordModel](db, "ip_address = ? AND is_banned = ?", ip, true)
	return ipRecordFromModel(m), ok, err
}

func (s *GormStore) AppendIPRecord(ctx context.Context, ip string, at time.Time) error {
	now := time.Now().UTC()
	model := IPRecordModel{IP: ip, RequestTime: at.UTC(), CreatedAt: now, UpdatedAt: now}
	return s.conn(ctx).Create(&model).Error
}

func (s *GormStore) CountIPRecordsSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&IPRecordModel{}).
		Where("ip_address = ? AND request_time > ?", ip, since.UTC()).
		Count(&count).Error
	return count, err
}

func (s *GormStore) BanIP(ctx context.Context, ip, reason string, until time.Time) error {
	return s.conn(ctx).Model(&IPRecordModel{}).
		Where("ip_address = ? AND is_banned = ?", ip, false).
		Updates(map[string]any{
			"is_banned":      true,
			"ban_reason":     reason,
			"ban_expires_at": until.UTC(),
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (s *GormStore) ClearIPBan(ctx context.Context, ip string) error {
	return s.conn(ctx).Model(&IPRecordModel{}).
		Where("ip_address = ? AND is_banned = ?", ip, true).
		Updates(map[string]any{
			"is_banned":      false,
			"ban_reason":     gorm.Expr("NULL"),
			"ban_expires_at": gorm.Expr("NULL"),
			"updated_at":     time.Now().UTC(),
		}).Error
}
