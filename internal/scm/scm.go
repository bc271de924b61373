// Package scm declares the typed operations this system needs from a
// source-code-management platform. Per spec §1 the SCM REST client itself
// is an external collaborator — only the interface is constrained here.
package scm

import "context"

// Comment is one pull-request comment.
type Comment struct {
	ID   string
	Body string
}

// Client is the set of SCM operations the feedback and dispatch pipelines
// need. Implemented outside this module's core (spec §1 Non-goals).
type Client interface {
	// DefaultBranch returns the repo's configured default branch.
	DefaultBranch(ctx context.Context, repoSlug string) (string, error)

	// ProtectedBranches returns the policy-defined protected refs,
	// already expanded from any prefix/wildcard rules (spec §4.D).
	ProtectedBranches(ctx context.Context, repoSlug string) ([]string, error)

	// IsDraft reports whether a PR is currently a draft.
	IsDraft(ctx context.Context, repoSlug string, prID string) (bool, error)

	// ListPRComments lists comments on a pull request, oldest first.
	ListPRComments(ctx context.Context, repoSlug, prID string) ([]Comment, error)

	// CreatePRComment posts a new PR comment, returning its id.
	CreatePRComment(ctx context.Context, repoSlug, prID, body string) (string, error)

	// EditPRComment replaces the body of an existing PR comment.
	EditPRComment(ctx context.Context, repoSlug, prID, commentID, body string) error

	// MaxCommentLength is the SCM's comment-body length limit, used to
	// decide whether the summary-only fallback is needed (spec §4.H).
	MaxCommentLength() int
}
