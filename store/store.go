package store

import (
	"context"
	"errors"

	"github.com/collapsinghierarchy/quorum/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store runs units of work against the protocol state. Update executes fn in
// a serializable read-write transaction and commits only if fn returns nil;
// View executes fn against a consistent read-only snapshot.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is the set of queries and commands available inside a transaction.
// Records are returned by value-copy; mutating them has no effect until they
// are written back.
type Tx interface {
	Contributor(ctx context.Context, addr model.Address) (*model.Contributor, error)
	// ContributorForUpdate is Contributor plus a row lock held until commit.
	ContributorForUpdate(ctx context.Context, addr model.Address) (*model.Contributor, error)
	InsertContributor(ctx context.Context, c *model.Contributor) error
	UpdateContributor(ctx context.Context, c *model.Contributor) error
	InactiveContributors(ctx context.Context) ([]model.Address, error)

	NextSubmissionID(ctx context.Context) (uint64, error)
	SubmissionCounter(ctx context.Context) (uint64, error)
	Submission(ctx context.Context, id uint64) (*model.Submission, error)
	InsertSubmission(ctx context.Context, s *model.Submission) error
	UpdateSubmission(ctx context.Context, s *model.Submission) error
	// DeleteSubmission removes the submission together with its assignment and votes.
	DeleteSubmission(ctx context.Context, id uint64) error

	Assignment(ctx context.Context, submissionID uint64) (*model.Assignment, error)
	// PutAssignment replaces any previous assignment and drops its votes.
	PutAssignment(ctx context.Context, a *model.Assignment) error
	// DeleteAssignment drops the assignment and its votes. Missing is not an error.
	DeleteAssignment(ctx context.Context, submissionID uint64) error

	Votes(ctx context.Context, submissionID uint64) ([]*model.Vote, error)
	// InsertVote fails with ErrDuplicate if the verifier already voted.
	InsertVote(ctx context.Context, v *model.Vote) error

	AppendEvent(ctx context.Context, e *model.Event) error
	Events(ctx context.Context, afterSeq uint64, limit int) ([]*model.Event, error)
}
