package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"blogcore/pkg/domain"
	"blogcore/pkg/events"
	"blogcore/pkg/store"
)

const (
	maxCommentLength           = 2000
	maxReportDescriptionLength = 500
)

// VoteAction is what a Vote call did to the caller's vote row.
type VoteAction string

const (
	VoteCreated   VoteAction = "created"
	VoteCancelled VoteAction = "cancelled"
	VoteSwitched  VoteAction = "switched"
)

// VoteResult carries the action plus the comment's counters afterwards.
type VoteResult struct {
	CommentID int64            `json:"commentId"`
	Action    VoteAction       `json:"action"`
	VoteType  *domain.VoteType `json:"voteType,omitempty"`
	UpVotes   int              `json:"upvotes"`
	DownVotes int              `json:"downvotes"`
}

// ReportResult reports whether the call created or updated the caller's report.
type ReportResult struct {
	CommentID   int64                `json:"commentId"`
	Created     bool                 `json:"created"`
	ReportCount int                  `json:"reportCount"`
	Report      domain.CommentReport `json:"report"`
}

// CreateCommentInput is a new comment or reply.
type CreateCommentInput struct {
	Content   string `json:"content"`
	ArticleID int64  `json:"articleId"`
	ParentID  *int64 `json:"parentId,omitempty"`
}

// Moderation owns the comment lifecycle and the vote/report state machine.
type Moderation struct {
	store  store.Store
	tx     *store.TxRunner
	events events.Publisher
	logger *slog.Logger
}

// Vote toggles the caller's vote: a new vote is created, the same type again
// cancels it, the other type switches it. Counters move with the vote rows.
func (m *Moderation) Vote(ctx context.Context, commentID, userID int64, voteType domain.VoteType) (VoteResult, error) {
	voteType = domain.VoteType(strings.ToUpper(strings.TrimSpace(string(voteType))))
	if !voteType.Valid() {
		return VoteResult{}, invalid("voteType must be UP or DOWN")
	}
	res, err := store.Execute(ctx, m.tx, store.Required, func(ctx context.Context) (VoteResult, error) {
		if _, err := m.lockComment(ctx, commentID); err != nil {
			return VoteResult{}, err
		}
		res := VoteResult{CommentID: commentID}
		existing, ok, err := m.store.GetCommentVote(ctx, commentID, userID)
		if err != nil {
			return VoteResult{}, err
		}
		switch {
		case !ok:
			if _, err := m.store.CreateCommentVote(ctx, domain.CommentVote{CommentID: commentID, UserID: userID, Type: voteType}); err != nil {
				return VoteResult{}, err
			}
			up, down := voteDelta(voteType, 1)
			if err := m.store.AdjustCommentVotes(ctx, commentID, up, down); err != nil {
				return VoteResult{}, err
			}
			res.Action = VoteCreated
			res.VoteType = &voteType
		case existing.Type == voteType:
			if err := m.store.DeleteCommentVote(ctx, existing.ID); err != nil {
				return VoteResult{}, err
			}
			up, down := voteDelta(voteType, -1)
			if err := m.store.AdjustCommentVotes(ctx, commentID, up, down); err != nil {
				return VoteResult{}, err
			}
			res.Action = VoteCancelled
		default:
			if err := m.store.UpdateCommentVoteType(ctx, existing.ID, voteType); err != nil {
				return VoteResult{}, err
			}
			up, down := voteDelta(voteType, 1)
			oldUp, oldDown := voteDelta(existing.Type, -1)
			if err := m.store.AdjustCommentVotes(ctx, commentID, up+oldUp, down+oldDown); err != nil {
				return VoteResult{}, err
			}
			res.Action = VoteSwitched
			res.VoteType = &voteType
		}
		after, ok, err := m.store.GetComment(ctx, commentID)
		if err != nil {
			return VoteResult{}, err
		}
		if !ok {
			return VoteResult{}, ErrCommentNotFound
		}
		res.UpVotes = after.UpVotes
		res.DownVotes = after.DownVotes
		return res, nil
	})
	if err != nil {
		return VoteResult{}, internal(err)
	}
	m.logger.Debug("comment_vote", "comment_id", commentID, "user_id", userID, "action", res.Action)
	return res, nil
}

func voteDelta(t domain.VoteType, n int) (up, down int) {
	if t == domain.VoteUp {
		return n, 0
	}
	return 0, n
}

// Report files or updates the caller's report. Only the first report by a
// user counts towards the comment's report total.
func (m *Moderation) Report(ctx context.Context, commentID, userID int64, reason domain.ReportReason, description string) (ReportResult, error) {
	reason = domain.ReportReason(strings.ToUpper(strings.TrimSpace(string(reason))))
	if !reason.Valid() {
		return ReportResult{}, invalid("reason must be one of SPAM, ABUSE, OFFENSIVE, OTHER")
	}
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxReportDescriptionLength {
		return ReportResult{}, invalid("description must be at most %d characters", maxReportDescriptionLength)
	}
	res, err := store.Execute(ctx, m.tx, store.Required, func(ctx context.Context) (ReportResult, error) {
		if _, err := m.lockComment(ctx, commentID); err != nil {
			return ReportResult{}, err
		}
		res := ReportResult{CommentID: commentID}
		existing, ok, err := m.store.GetCommentReport(ctx, commentID, userID)
		if err != nil {
			return ReportResult{}, err
		}
		if ok {
			if err := m.store.UpdateCommentReport(ctx, existing.ID, reason, description); err != nil {
				return ReportResult{}, err
			}
			existing.Reason = reason
			existing.Description = description
			res.Report = existing
		} else {
			created, err := m.store.CreateCommentReport(ctx, domain.CommentReport{
				CommentID:   commentID,
				UserID:      userID,
				Reason:      reason,
				Description: description,
			})
			if err != nil {
				return ReportResult{}, err
			}
			if err := m.store.IncrementCommentReports(ctx, commentID); err != nil {
				return ReportResult{}, err
			}
			res.Created = true
			res.Report = created
			publishAfterCommit(ctx, m.events, m.logger, events.New(events.TypeCommentReported, map[string]any{
				"commentId": commentID,
				"userId":    userID,
				"reason":    string(reason),
			}))
		}
		after, ok, err := m.store.GetComment(ctx, commentID)
		if err != nil {
			return ReportResult{}, err
		}
		if !ok {
			return ReportResult{}, ErrCommentNotFound
		}
		res.ReportCount = after.ReportCount
		return res, nil
	})
	if err != nil {
		return ReportResult{}, internal(err)
	}
	m.logger.Info("comment_reported", "comment_id", commentID, "user_id", userID, "created", res.Created, "reason", reason)
	return res, nil
}

func commentContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", invalid("content is required")
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return "", invalid("content must be at most %d characters", maxCommentLength)
	}
	return content, nil
}

// CreateComment stores a PENDING comment. A reply must target a comment on the same article.
func (m *Moderation) CreateComment(ctx context.Context, authorID int64, in CreateCommentInput) (domain.Comment, error) {
	content, err := commentContent(in.Content)
	if err != nil {
		return domain.Comment{}, err
	}
	if in.ArticleID <= 0 {
		return domain.Comment{}, invalid("articleId is required")
	}
	c, err := store.Execute(ctx, m.tx, store.Required, func(ctx context.Context) (domain.Comment, error) {
		if in.ParentID != nil {
			parent, ok, err := m.store.GetComment(ctx, *in.ParentID)
			if err != nil {
				return domain.Comment{}, err
			}
			if !ok {
				return domain.Comment{}, ErrCommentNotFound
			}
			if parent.ArticleID != in.ArticleID {
				return domain.Comment{}, ErrParentMismatch
			}
		}
		c, err := m.store.CreateComment(ctx, domain.Comment{
			Content:   content,
			ArticleID: in.ArticleID,
			AuthorID:  authorID,
			ParentID:  in.ParentID,
			Status:    domain.CommentPending,
		})
		if errors.Is(err, store.ErrNotFound) {
			return domain.Comment{}, ErrUserNotFound
		}
		return c, err
	})
	if err != nil {
		return domain.Comment{}, internal(err)
	}
	return c, nil
}

// SetCommentStatus moves a comment between PENDING, APPROVED and REJECTED.
func (m *Moderation) SetCommentStatus(ctx context.Context, commentID int64, status domain.CommentStatus) error {
	status = domain.CommentStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return invalid("status must be one of PENDING, APPROVED, REJECTED")
	}
	err := m.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		return m.store.SetCommentStatus(ctx, commentID, status)
	})
	if err != nil {
		return notFoundAs(err, ErrCommentNotFound)
	}
	m.logger.Info("comment_status_changed", "comment_id", commentID, "status", status)
	return nil
}

// DeleteComment removes a comment with its replies, votes and reports.
func (m *Moderation) DeleteComment(ctx context.Context, commentID int64) error {
	err := m.tx.Execute(ctx, store.Required, func(ctx context.Context) error {
		return m.store.DeleteComment(ctx, commentID)
	})
	if err != nil {
		return notFoundAs(err, ErrCommentNotFound)
	}
	m.logger.Info("comment_deleted", "comment_id", commentID)
	return nil
}

// Statistics counts comments per status plus those with at least one report.
func (m *Moderation) Statistics(ctx context.Context) (domain.CommentStats, error) {
	stats, err := m.store.CommentStatistics(ctx)
	if err != nil {
		return domain.CommentStats{}, internal(err)
	}
	return stats, nil
}

// Comment fetches one comment.
func (m *Moderation) Comment(ctx context.Context, commentID int64) (domain.Comment, error) {
	c, ok, err := m.store.GetComment(ctx, commentID)
	if err != nil {
		return domain.Comment{}, internal(err)
	}
	if !ok {
		return domain.Comment{}, ErrCommentNotFound
	}
	return c, nil
}

func (m *Moderation) lockComment(ctx context.Context, commentID int64) (domain.Comment, error) {
	c, ok, err := m.store.LockComment(ctx, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	if !ok {
		return domain.Comment{}, ErrCommentNotFound
	}
	return c, nil
}

func notFoundAs(err error, target *Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return target
	}
	return internal(err)
}
