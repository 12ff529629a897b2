package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"blogcore/pkg/domain"
)

func TestMemoryStoreUserUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.CreateUser(ctx, domain.User{Email: "a@x.com", Username: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateUser(ctx, domain.User{Email: "a@x.com", Username: "other"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	if _, err := s.CreateUser(ctx, domain.User{Email: "other@x.com", Username: "a"}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected duplicate username, got %v", err)
	}
}

func TestMemoryStoreDeleteCommentCascades(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	author, _ := s.CreateUser(ctx, domain.User{Email: "a@x.com", Username: "a"})
	root, err := s.CreateComment(ctx, domain.Comment{Content: "root", ArticleID: 1, AuthorID: author.ID})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	reply, err := s.CreateComment(ctx, domain.Comment{Content: "reply", ArticleID: 1, AuthorID: author.ID, ParentID: &root.ID})
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	if _, err := s.CreateCommentVote(ctx, domain.CommentVote{CommentID: reply.ID, UserID: author.ID, Type: domain.VoteUp}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := s.DeleteComment(ctx, root.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetComment(ctx, reply.ID); ok {
		t.Fatalf("expected reply to be deleted with its parent")
	}
	if _, ok, _ := s.GetCommentVote(ctx, reply.ID, author.ID); ok {
		t.Fatalf("expected reply vote to be deleted")
	}
	if err := s.DeleteComment(ctx, root.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStoreDeleteUserRevertsCounters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	author, _ := s.CreateUser(ctx, domain.User{Email: "a@x.com", Username: "a"})
	voter, _ := s.CreateUser(ctx, domain.User{Email: "v@x.com", Username: "v"})
	c, _ := s.CreateComment(ctx, domain.Comment{Content: "c", ArticleID: 1, AuthorID: author.ID})
	_, _ = s.CreateCommentVote(ctx, domain.CommentVote{CommentID: c.ID, UserID: voter.ID, Type: domain.VoteDown})
	_ = s.AdjustCommentVotes(ctx, c.ID, 0, 1)
	_, _ = s.CreateCommentReport(ctx, domain.CommentReport{CommentID: c.ID, UserID: voter.ID, Reason: domain.ReportSpam})
	_ = s.IncrementCommentReports(ctx, c.ID)

	if err := s.DeleteUser(ctx, voter.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	got, _, _ := s.GetComment(ctx, c.ID)
	if got.DownVotes != 0 || got.ReportCount != 0 {
		t.Fatalf("expected counters reverted, got %+v", got)
	}
}

func TestMemoryStoreIPBanLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.AppendIPRecord(ctx, "1.2.3.4", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = s.AppendIPRecord(ctx, "5.6.7.8", base)

	count, err := s.CountIPRecordsSince(ctx, "1.2.3.4", base)
	if err != nil || count != 2 {
		t.Fatalf("expected 2 rows after base, got %d err=%v", count, err)
	}
	if _, ok, _ := s.LatestIPBan(ctx, "1.2.3.4"); ok {
		t.Fatalf("expected no ban yet")
	}
	until := base.Add(24 * time.Hour)
	if err := s.BanIP(ctx, "1.2.3.4", "too many requests", until); err != nil {
		t.Fatalf("ban: %v", err)
	}
	rec, ok, _ := s.LatestIPBan(ctx, "1.2.3.4")
	if !ok || rec.BanReason != "too many requests" || rec.BanExpireAt == nil || !rec.BanExpireAt.Equal(until) {
		t.Fatalf("unexpected ban row: %+v ok=%v", rec, ok)
	}
	if _, ok, _ := s.LatestIPBan(ctx, "5.6.7.8"); ok {
		t.Fatalf("ban must not leak to other IPs")
	}
	if err := s.ClearIPBan(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.LatestIPBan(ctx, "1.2.3.4"); ok {
		t.Fatalf("expected ban cleared")
	}
}

func TestMemoryStoreRoleLinks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u, _ := s.CreateUser(ctx, domain.User{Email: "a@x.com", Username: "a"})
	role, _ := s.EnsureRole(ctx, "EDITOR", "")
	again, _ := s.EnsureRole(ctx, "EDITOR", "ignored")
	if role.ID != again.ID {
		t.Fatalf("expected EnsureRole to be idempotent")
	}
	perm, _ := s.EnsurePermission(ctx, "comment:moderate", "")
	if err := s.GrantPermission(ctx, role.ID, perm.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := s.GrantPermission(ctx, role.ID, perm.ID); err != nil {
		t.Fatalf("regrant: %v", err)
	}
	if err := s.AddUserRole(ctx, u.ID, role.ID); err != nil {
		t.Fatalf("add role: %v", err)
	}
	if err := s.AddUserRole(ctx, u.ID, role.ID); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	names, _ := s.ListUserRoleNames(ctx, u.ID)
	if len(names) != 1 || names[0] != "EDITOR" {
		t.Fatalf("unexpected roles: %v", names)
	}
	perms, _ := s.ListRolePermissionNames(ctx, "EDITOR")
	if len(perms) != 1 || perms[0] != "comment:moderate" {
		t.Fatalf("unexpected permissions: %v", perms)
	}
	if err := s.RemoveUserRole(ctx, u.ID, role.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveUserRole(ctx, u.ID, role.ID); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
}

func TestMemoryStoreBeginTxHonoursDeadline(t *testing.T) {
	s := NewMemoryStore()
	held, err := s.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer held.Rollback()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.BeginTx(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while waiting, got %v", err)
	}
	if _, _, err := s.GetUserByID(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected plain reads to give up too, got %v", err)
	}
}
