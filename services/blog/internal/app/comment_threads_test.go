package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"blogcore/pkg/domain"
)

func TestUpdateCommentPermissions(t *testing.T) {
	h := newHarness(t, permissive)
	author := h.register(t, "olga@example.com", "olga", "secret123")
	other := h.register(t, "pete@example.com", "pete", "secret123")
	c := newComment(t, h, author.ID)
	ctx := context.Background()

	updated, err := h.app.Moderation.UpdateComment(ctx, c.ID, author.ID, false, "  edited  ")
	if err != nil {
		t.Fatalf("author edit: %v", err)
	}
	if updated.Content != "edited" || updated.UpdatedAt.Before(c.UpdatedAt) {
		t.Fatalf("unexpected comment: %+v", updated)
	}
	if _, err := h.app.Moderation.UpdateComment(ctx, c.ID, other.ID, false, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another user, got %v", err)
	}
	if _, err := h.app.Moderation.UpdateComment(ctx, c.ID, author.ID, false, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	long := strings.Repeat("é", maxCommentLength+1)
	if _, err := h.app.Moderation.UpdateComment(ctx, c.ID, author.ID, false, long); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for long content, got %v", err)
	}

	if err := h.app.Moderation.SetCommentStatus(ctx, c.ID, domain.CommentApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.app.Moderation.UpdateComment(ctx, c.ID, author.ID, false, "after approval"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden after approval, got %v", err)
	}
	moderated, err := h.app.Moderation.UpdateComment(ctx, c.ID, other.ID, true, "cleaned up")
	if err != nil || moderated.Content != "cleaned up" || moderated.Status != domain.CommentApproved {
		t.Fatalf("moderator edit: %+v (%v)", moderated, err)
	}
	if _, err := h.app.Moderation.UpdateComment(ctx, 9999, author.ID, true, "x"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}
}

func TestArticleCommentsNestsReplies(t *testing.T) {
	h := newHarness(t, permissive)
	author := h.register(t, "quin@example.com", "quin", "secret123")
	ctx := context.Background()
	post := func(articleID int64, parent *int64) domain.Comment {
		t.Helper()
		c, err := h.app.Moderation.CreateComment(ctx, author.ID, CreateCommentInput{Content: "text", ArticleID: articleID, ParentID: parent})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return c
	}
	first := post(1, nil)
	second := post(1, nil)
	third := post(1, nil)
	reply := post(1, &first.ID)
	nested := post(1, &reply.ID)
	post(2, nil)

	page, err := h.app.Moderation.ArticleComments(ctx, 1, "", ListParams{PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Items[0].ID != third.ID || page.Items[1].ID != second.ID {
		t.Fatalf("expected newest first, got %d, %d", page.Items[0].ID, page.Items[1].ID)
	}

	page, err = h.app.Moderation.ArticleComments(ctx, 1, "", ListParams{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != first.ID {
		t.Fatalf("unexpected second page: %+v", page.Items)
	}
	root := page.Items[0]
	if len(root.Replies) != 1 || root.Replies[0].ID != reply.ID {
		t.Fatalf("expected one reply, got %+v", root.Replies)
	}
	if len(root.Replies[0].Replies) != 1 || root.Replies[0].Replies[0].ID != nested.ID {
		t.Fatalf("expected nested reply, got %+v", root.Replies[0].Replies)
	}
	if root.Replies[0].Replies[0].Replies == nil {
		t.Fatalf("leaf replies should be an empty list")
	}
}

func TestArticleCommentsFiltersAndSorts(t *testing.T) {
	h := newHarness(t, permissive)
	author := h.register(t, "rosa@example.com", "rosa", "secret123")
	voter := h.register(t, "sam@example.com", "sam", "secret123")
	ctx := context.Background()
	a := newComment(t, h, author.ID)
	b := newComment(t, h, author.ID)
	if err := h.app.Moderation.SetCommentStatus(ctx, a.ID, domain.CommentApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.app.Moderation.Vote(ctx, a.ID, voter.ID, domain.VoteUp); err != nil {
		t.Fatalf("vote: %v", err)
	}

	page, err := h.app.Moderation.ArticleComments(ctx, 1, "approved", ListParams{})
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != a.ID || page.PageSize != 10 {
		t.Fatalf("unexpected approved page: %+v", page)
	}
	page, err = h.app.Moderation.ArticleComments(ctx, 1, "", ListParams{Sort: "upvotes"})
	if err != nil {
		t.Fatalf("list by votes: %v", err)
	}
	if page.Items[0].ID != a.ID || page.Items[1].ID != b.ID {
		t.Fatalf("expected most voted first, got %+v", page.Items)
	}

	if _, err := h.app.Moderation.ArticleComments(ctx, 1, "HIDDEN", ListParams{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for status, got %v", err)
	}
	if _, err := h.app.Moderation.ArticleComments(ctx, 1, "", ListParams{Sort: "name"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for sort, got %v", err)
	}
	empty, err := h.app.Moderation.ArticleComments(ctx, 42, "", ListParams{})
	if err != nil || empty.Total != 0 || empty.Items == nil {
		t.Fatalf("expected an empty page, got %+v (%v)", empty, err)
	}
}
