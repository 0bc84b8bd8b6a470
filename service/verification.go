package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/store"
)

// CommitVerifiers stores the Merkle root of the eight assigned verifiers for a
// Pending submission and opens a fresh voting window. A previous assignment
// and its votes are discarded. sealedSalt is an optional escrow envelope
// stored as-is.
func (s *Service) CommitVerifiers(ctx context.Context, caller model.Address, id uint64, root model.Hash, sealedSalt []byte) error {
	if err := s.requireAdmin(caller); err != nil {
		s.metrics.observe("commit_verifiers", err)
		return err
	}
	if root == (model.Hash{}) {
		return fmt.Errorf("merkle root is empty: %w", ErrInvalidInput)
	}
	if len(sealedSalt) > s.maxSealed {
		return fmt.Errorf("sealed salt of %d bytes exceeds %d: %w", len(sealedSalt), s.maxSealed, ErrInvalidInput)
	}
	var a *model.Assignment
	err := s.update(ctx, "commit_verifiers", func(tx store.Tx) error {
		sub, err := loadSubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.Status != model.StatusPending {
			return fmt.Errorf("submission %d is %s: %w", id, sub.Status, ErrInvalidState)
		}
		a = &model.Assignment{
			SubmissionID:   id,
			MerkleRoot:     root,
			WindowOpenedAt: s.clock(),
			WindowDuration: s.window,
		}
		if len(sealedSalt) > 0 {
			a.SealedSalt = append([]byte(nil), sealedSalt...)
			a.SaltKid = s.escrowKid
		}
		if err := tx.PutAssignment(ctx, a); err != nil {
			return err
		}
		// the previous assignment's votes are gone
		if sub.VoteCount != 0 {
			sub.VoteCount = 0
			if err := tx.UpdateSubmission(ctx, sub); err != nil {
				return err
			}
		}
		return s.emit(ctx, tx, model.EventVerifiersCommitted, id, caller, model.Address{}, map[string]any{
			"root":     root,
			"closesAt": a.ClosesAt(),
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("verifiers committed", "id", id, "root", root.String(), "closes_at", a.ClosesAt())
	return nil
}

// SubmitVerification records the caller's vote and counts it as an attempt on
// the submission. Membership cannot be decided here because leaves depend on
// the unrevealed salt: any well-formed vote is kept and only votes whose proof
// verifies at reveal earn credit.
func (s *Service) SubmitVerification(ctx context.Context, caller model.Address, id uint64, decision model.Decision, proof []model.Hash) error {
	if !decision.Valid() {
		return fmt.Errorf("decision %q: %w", decision, ErrInvalidInput)
	}
	if len(proof) != model.ProofLength {
		return fmt.Errorf("proof has %d elements, want %d: %w", len(proof), model.ProofLength, ErrInvalidInput)
	}
	now := s.clock()
	err := s.update(ctx, "submit_verification", func(tx store.Tx) error {
		sub, err := loadSubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub.Status != model.StatusPending {
			return fmt.Errorf("submission %d is %s: %w", id, sub.Status, ErrInvalidState)
		}
		a, err := tx.Assignment(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("submission %d has no committed verifiers: %w", id, ErrInvalidState)
		}
		if err != nil {
			return err
		}
		if !a.Open(now) {
			return fmt.Errorf("submission %d closed at %s: %w", id, a.ClosesAt().Format(time.RFC3339), ErrWindowClosed)
		}
		if _, err := requireActive(ctx, tx, caller); err != nil {
			return err
		}
		v := &model.Vote{
			SubmissionID: id,
			Verifier:     caller,
			Decision:     decision,
			SubmittedAt:  now,
		}
		copy(v.Proof[:], proof)
		if err := tx.InsertVote(ctx, v); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%s on submission %d: %w", caller, id, ErrAlreadyVoted)
			}
			return err
		}
		sub.VoteCount++
		if err := tx.UpdateSubmission(ctx, sub); err != nil {
			return err
		}
		// voter and decision stay out of the log until reveal
		return s.emit(ctx, tx, model.EventVoteRecorded, id, model.Address{}, model.Address{}, nil)
	})
	if err != nil {
		return err
	}
	s.metrics.votes.Inc()
	s.logger.Debug("vote recorded", "id", id, "verifier", caller.String())
	return nil
}

// AssignmentStatus is the public view of a committed assignment.
type AssignmentStatus struct {
	SubmissionID  uint64     `json:"submissionId"`
	MerkleRoot    model.Hash `json:"merkleRoot"`
	OpenedAt      time.Time  `json:"openedAt"`
	ClosesAt      time.Time  `json:"closesAt"`
	Open          bool       `json:"open"`
	Attempts      int        `json:"attempts"`
	SealedSalt    []byte     `json:"sealedSalt,omitempty"`
	SaltKid       uint8      `json:"saltKid"`
	VotingSeconds int64      `json:"votingSeconds"`
}

// Assignment reports the current assignment of a submission. Voter identities
// and decisions are withheld; only the number of attempts is exposed.
func (s *Service) Assignment(ctx context.Context, id uint64) (*AssignmentStatus, error) {
	var st *AssignmentStatus
	err := s.Store.View(ctx, func(tx store.Tx) error {
		if _, err := loadSubmission(ctx, tx, id); err != nil {
			return err
		}
		a, err := tx.Assignment(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("submission %d has no assignment: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		votes, err := tx.Votes(ctx, id)
		if err != nil {
			return err
		}
		st = &AssignmentStatus{
			SubmissionID:  id,
			MerkleRoot:    a.MerkleRoot,
			OpenedAt:      a.WindowOpenedAt,
			ClosesAt:      a.ClosesAt(),
			Open:          a.Open(s.clock()),
			Attempts:      len(votes),
			SealedSalt:    a.SealedSalt,
			SaltKid:       a.SaltKid,
			VotingSeconds: int64(a.WindowDuration / time.Second),
		}
		return nil
	})
	return st, err
}
