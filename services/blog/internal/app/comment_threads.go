package app

import (
	"context"
	"strings"

	"blogcore/pkg/domain"
	"blogcore/pkg/store"
)

var commentListing = listDefaults{
	pageSize: 10,
	sort:     domain.SortCreatedAt,
	desc:     true,
	allowed:  []string{domain.SortCreatedAt, domain.SortUpVotes},
}

// UpdateComment replaces a comment's content. Moderators may edit any
// comment; authors may edit their own until it is approved.
func (m *Moderation) UpdateComment(ctx context.Context, commentID, userID int64, canModerate bool, content string) (domain.Comment, error) {
	content, err := commentContent(content)
	if err != nil {
		return domain.Comment{}, err
	}
	c, err := store.Execute(ctx, m.tx, store.Required, func(ctx context.Context) (domain.Comment, error) {
		cur, err := m.lockComment(ctx, commentID)
		if err != nil {
			return domain.Comment{}, err
		}
		if !canModerate {
			if cur.AuthorID != userID {
				return domain.Comment{}, ErrForbidden
			}
			if cur.Status == domain.CommentApproved {
				return domain.Comment{}, ErrForbidden.withMessage("approved comments can only be edited by moderators")
			}
		}
		if err := m.store.UpdateCommentContent(ctx, commentID, content); err != nil {
			return domain.Comment{}, err
		}
		updated, ok, err := m.store.GetComment(ctx, commentID)
		if err != nil {
			return domain.Comment{}, err
		}
		if !ok {
			return domain.Comment{}, ErrCommentNotFound
		}
		return updated, nil
	})
	if err != nil {
		return domain.Comment{}, notFoundAs(err, ErrCommentNotFound)
	}
	m.logger.Info("comment_updated", "comment_id", commentID, "user_id", userID, "moderator", canModerate)
	return c, nil
}

// ArticleComments pages an article's top-level comments and nests every
// reply under its parent. Paging counts top-level comments only.
func (m *Moderation) ArticleComments(ctx context.Context, articleID int64, status domain.CommentStatus, params ListParams) (domain.Page[domain.CommentThread], error) {
	if articleID <= 0 {
		return domain.Page[domain.CommentThread]{}, invalid("articleId is required")
	}
	status = domain.CommentStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if status != "" && !status.Valid() {
		return domain.Page[domain.CommentThread]{}, invalid("status must be one of PENDING, APPROVED, REJECTED")
	}
	q, err := params.query(commentListing)
	if err != nil {
		return domain.Page[domain.CommentThread]{}, err
	}
	type listing struct {
		roots   []domain.Comment
		replies []domain.Comment
		total   int64
	}
	res, err := store.Execute(ctx, m.tx, store.Required, func(ctx context.Context) (listing, error) {
		roots, total, err := m.store.ListRootComments(ctx, domain.CommentQuery{ArticleID: articleID, Status: status, ListQuery: q})
		if err != nil {
			return listing{}, err
		}
		replies, err := m.store.ListReplies(ctx, articleID, status)
		if err != nil {
			return listing{}, err
		}
		return listing{roots: roots, replies: replies, total: total}, nil
	})
	if err != nil {
		return domain.Page[domain.CommentThread]{}, internal(err)
	}
	return domain.NewPage(buildThreads(res.roots, res.replies), res.total, q), nil
}

// buildThreads keeps the order of roots and of replies. Replies whose parent
// is not in the set are dropped.
func buildThreads(roots, replies []domain.Comment) []domain.CommentThread {
	children := make(map[int64][]domain.Comment, len(replies))
	for _, r := range replies {
		children[*r.ParentID] = append(children[*r.ParentID], r)
	}
	var nest func(c domain.Comment, depth int) domain.CommentThread
	nest = func(c domain.Comment, depth int) domain.CommentThread {
		t := domain.CommentThread{Comment: c, Replies: []domain.CommentThread{}}
		if depth > len(replies) {
			return t
		}
		for _, child := range children[c.ID] {
			t.Replies = append(t.Replies, nest(child, depth+1))
		}
		return t
	}
	out := make([]domain.CommentThread, 0, len(roots))
	for _, root := range roots {
		out = append(out, nest(root, 0))
	}
	return out
}
