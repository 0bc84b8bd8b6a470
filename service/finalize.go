package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/pkc/merkle"
	"github.com/collapsinghierarchy/quorum/store"
)

// Tally counts valid votes by decision.
type Tally struct {
	Accept int `json:"accept"`
	Reject int `json:"reject"`
}

func (t Tally) Total() int { return t.Accept + t.Reject }

// Decide applies the consensus rule: at least ConsensusThreshold valid votes
// and a strict majority for one decision.
func (t Tally) Decide() (model.Decision, bool) {
	total := t.Total()
	switch {
	case total < ConsensusThreshold:
		return "", false
	case 2*t.Accept > total:
		return model.DecisionAccept, true
	case 2*t.Reject > total:
		return model.DecisionReject, true
	}
	return "", false
}

// Outcome is the result of a successful reveal.
type Outcome struct {
	SubmissionID uint64                  `json:"submissionId"`
	Status       model.Status            `json:"status"`
	Tally        Tally                   `json:"tally"`
	Valid        []model.Address         `json:"validVoters"`
	Deltas       map[model.Address]int64 `json:"-"`
}

// RevealFinalSubmissionDecision discloses the salt and the ordered verifier
// set behind the committed root, keeps the votes whose proofs verify against
// the recomputed leaves, applies the consensus rule and, on success, finalizes
// the submission and applies scoring in the same transaction. Any failure
// leaves the state untouched.
func (s *Service) RevealFinalSubmissionDecision(ctx context.Context, caller model.Address, id uint64, salt string, assigned []model.Address) (*Outcome, error) {
	if err := s.requireAdmin(caller); err != nil {
		s.metrics.observe("reveal", err)
		return nil, err
	}
	if err := checkVerifierSet(salt, assigned); err != nil {
		return nil, err
	}
	var (
		out       *Outcome
		suspended int
	)
	err := s.update(ctx, "reveal", func(tx store.Tx) error {
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
		if now := s.clock(); a.Open(now) {
			return fmt.Errorf("voting on submission %d open until %s: %w",
				id, a.ClosesAt().Format(time.RFC3339), ErrInvalidState)
		}

		tree, err := s.revealTree(salt, assigned)
		if err != nil {
			return err
		}
		if model.Hash(tree.Root()) != a.MerkleRoot {
			return fmt.Errorf("submission %d: %w", id, ErrSaltMismatch)
		}

		votes, err := tx.Votes(ctx, id)
		if err != nil {
			return err
		}
		valid := s.validVotes(tree, assigned, votes)
		var tally Tally
		for _, v := range valid {
			if v.Decision == model.DecisionAccept {
				tally.Accept++
			} else {
				tally.Reject++
			}
		}
		decision, ok := tally.Decide()
		if !ok {
			return fmt.Errorf("submission %d: %d valid votes (%d accept, %d reject): %w",
				id, tally.Total(), tally.Accept, tally.Reject, ErrInsufficientConsensus)
		}

		sub.Status = decision.Outcome()
		sub.Finalized = true
		sub.VoteCount = uint32(tally.Total())
		if err := tx.UpdateSubmission(ctx, sub); err != nil {
			return err
		}

		out = &Outcome{
			SubmissionID: id,
			Status:       sub.Status,
			Tally:        tally,
			Deltas:       finalizeDeltas(sub, decision, assigned, valid),
		}
		for _, v := range valid {
			out.Valid = append(out.Valid, v.Verifier)
		}
		if err := s.emit(ctx, tx, model.EventSubmissionFinalized, id, caller, sub.Submitter, out); err != nil {
			return err
		}
		suspended, err = s.applyDeltas(ctx, tx, id, out.Deltas)
		return err
	})
	if err != nil {
		s.logger.Info("reveal rejected", "id", id, "reason", Code(err))
		return nil, err
	}
	s.metrics.finalized(out.Status)
	s.metrics.suspensions.Add(float64(suspended))
	s.logger.Info("submission finalized", "id", id, "status", out.Status,
		"accept", out.Tally.Accept, "reject", out.Tally.Reject)
	return out, nil
}

func checkVerifierSet(salt string, assigned []model.Address) error {
	if strings.TrimSpace(salt) == "" {
		return fmt.Errorf("salt is required: %w", ErrInvalidInput)
	}
	if len(assigned) != model.VerifierCount {
		return fmt.Errorf("%d verifiers revealed, want %d: %w", len(assigned), model.VerifierCount, ErrInvalidInput)
	}
	seen := make(map[model.Address]struct{}, len(assigned))
	for _, a := range assigned {
		if a.IsZero() {
			return fmt.Errorf("zero verifier address: %w", ErrInvalidInput)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("verifier %s listed twice: %w", a, ErrInvalidInput)
		}
		seen[a] = struct{}{}
	}
	return nil
}

// revealTree rebuilds the commitment from the revealed salt and verifier order.
func (s *Service) revealTree(salt string, assigned []model.Address) (*merkle.Tree, error) {
	members := make([][]byte, len(assigned))
	for i := range assigned {
		members[i] = assigned[i][:]
	}
	return merkle.FromMembers(s.hasher, treeDepth, members, []byte(salt))
}

// validVotes keeps the votes cast by a revealed verifier whose proof folds
// that verifier's leaf into the root.
func (s *Service) validVotes(tree *merkle.Tree, assigned []model.Address, votes []*model.Vote) []*model.Vote {
	index := make(map[model.Address]int, len(assigned))
	for i, a := range assigned {
		index[a] = i
	}
	var valid []*model.Vote
	for _, v := range votes {
		i, ok := index[v.Verifier]
		if !ok {
			continue
		}
		proof := make([]merkle.Node, len(v.Proof))
		for j := range v.Proof {
			proof[j] = merkle.Node(v.Proof[j])
		}
		if merkle.Verify(s.hasher, tree.Root(), tree.Leaf(i), proof) {
			valid = append(valid, v)
		}
	}
	return valid
}

// ReVerifySubmission sends a finalized submission back to Pending and drops
// its assignment and votes. A new commit is needed before voting resumes.
func (s *Service) ReVerifySubmission(ctx context.Context, caller model.Address, id uint64) error {
	if err := s.requireAdmin(caller); err != nil {
		s.metrics.observe("reverify", err)
		return err
	}
	err := s.update(ctx, "reverify", func(tx store.Tx) error {
		sub, err := loadSubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		if !sub.Finalized {
			return fmt.Errorf("submission %d is not finalized: %w", id, ErrInvalidState)
		}
		prev := sub.Status
		sub.Status = model.StatusPending
		sub.Finalized = false
		sub.VoteCount = 0
		if err := tx.UpdateSubmission(ctx, sub); err != nil {
			return err
		}
		if err := tx.DeleteAssignment(ctx, id); err != nil {
			return err
		}
		return s.emit(ctx, tx, model.EventSubmissionReopened, id, caller, sub.Submitter, map[string]any{
			"previous": prev,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("submission reopened", "id", id, "by", caller.String())
	return nil
}
