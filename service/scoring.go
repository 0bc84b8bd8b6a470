package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/store"
)

// Point values.
const (
	PointsAccepted      = 4
	PointsRejected      = 1
	PointsValidVote     = 1
	PointsConsensusVote = 2
	PointsMissedVote    = -1
)

// finalizeDeltas computes every score change caused by one finalization.
// Deltas for the same address (a submitter who was also assigned) are summed.
func finalizeDeltas(sub *model.Submission, majority model.Decision, assigned []model.Address, valid []*model.Vote) map[model.Address]int64 {
	deltas := make(map[model.Address]int64, len(assigned)+1)
	if sub.Status == model.StatusAccepted {
		deltas[sub.Submitter] += PointsAccepted
	} else {
		deltas[sub.Submitter] += PointsRejected
	}
	byVerifier := make(map[model.Address]*model.Vote, len(valid))
	for _, v := range valid {
		byVerifier[v.Verifier] = v
	}
	for _, a := range assigned {
		v, ok := byVerifier[a]
		if !ok {
			deltas[a] += PointsMissedVote
			continue
		}
		deltas[a] += PointsValidVote
		if v.Decision == majority {
			deltas[a] += PointsConsensusVote
		}
	}
	return deltas
}

// applyDeltas updates scores in address order so concurrent finalizations
// lock contributor rows in the same sequence. Unregistered addresses have
// no record to score and are skipped.
// It returns the number of contributors the changes suspended.
func (s *Service) applyDeltas(ctx context.Context, tx store.Tx, submissionID uint64, deltas map[model.Address]int64) (int, error) {
	addrs := make([]model.Address, 0, len(deltas))
	for a := range deltas {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })

	suspended := 0
	for _, addr := range addrs {
		delta := deltas[addr]
		if delta == 0 {
			continue
		}
		c, err := tx.ContributorForUpdate(ctx, addr)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug("skipping score for unregistered address", "address", addr.String())
			continue
		}
		if err != nil {
			return 0, err
		}
		before := c.Score
		c.Score += delta
		banned := enforceBan(c)
		if err := tx.UpdateContributor(ctx, c); err != nil {
			return 0, err
		}
		if err := s.emit(ctx, tx, model.EventScoreChanged, submissionID, model.Address{}, addr, map[string]int64{
			"from":  before,
			"to":    c.Score,
			"delta": delta,
		}); err != nil {
			return 0, err
		}
		if banned {
			suspended++
			if err := s.emit(ctx, tx, model.EventContributorSuspended, submissionID, model.Address{}, addr, map[string]int64{
				"score": c.Score,
			}); err != nil {
				return 0, err
			}
		}
	}
	return suspended, nil
}

// enforceBan deactivates c when its score reached the ban threshold and
// reports whether that changed anything.
func enforceBan(c *model.Contributor) bool {
	if c.Score <= BanScore && c.Active {
		c.Active = false
		return true
	}
	return false
}

// BanContributor forces target to the ban score and suspends it. Admin only.
func (s *Service) BanContributor(ctx context.Context, caller, target model.Address) error {
	return s.setStanding(ctx, "ban", caller, target, BanScore, false, model.EventContributorBanned)
}

// ReinstateContributor resets target to score 0 and reactivates it. Admin only.
func (s *Service) ReinstateContributor(ctx context.Context, caller, target model.Address) error {
	return s.setStanding(ctx, "reinstate", caller, target, 0, true, model.EventContributorReinstated)
}

func (s *Service) setStanding(ctx context.Context, op string, caller, target model.Address, score int64, active bool, typ model.EventType) error {
	if err := s.requireAdmin(caller); err != nil {
		s.metrics.observe(op, err)
		return err
	}
	var suspends bool
	err := s.update(ctx, op, func(tx store.Tx) error {
		c, err := tx.ContributorForUpdate(ctx, target)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("contributor %s: %w", target, ErrNotFound)
		}
		if err != nil {
			return err
		}
		prev := c.Score
		suspends = c.Active && !active
		c.Score = score
		c.Active = active
		if err := tx.UpdateContributor(ctx, c); err != nil {
			return err
		}
		return s.emit(ctx, tx, typ, 0, caller, target, map[string]int64{"from": prev, "to": score})
	})
	if err != nil {
		return err
	}
	if suspends {
		s.metrics.suspensions.Inc()
	}
	s.logger.Info("contributor "+op, "address", target.String(), "by", caller.String())
	return nil
}
