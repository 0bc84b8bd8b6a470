package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/pkc/merkle"
	"github.com/collapsinghierarchy/quorum/store"
)

const (
	// ConsensusThreshold is the minimum number of valid votes a decision needs.
	ConsensusThreshold = 5
	// BanScore is the score at or below which a contributor is suspended.
	BanScore = -3

	treeDepth       = 3
	maxEventsPage   = 500
	defaultEventsPg = 100
)

// Options configures a Service. Zero values fall back to defaults where one
// exists; Roles and VotingWindow must be set.
type Options struct {
	Roles         Roles
	VotingWindow  time.Duration
	MaxSealedSalt int
	EscrowKid     uint8
	EscrowKey     []byte
	Logger        *slog.Logger
	Registerer    prometheus.Registerer
	Clock         func() time.Time
}

type Service struct {
	Store     store.Store // dependency-injected DAL interface
	roles     Roles
	window    time.Duration
	maxSealed int
	escrowKid uint8
	escrowKey []byte
	logger    *slog.Logger
	metrics   *metrics
	now       func() time.Time
	hasher    merkle.Hasher
}

func New(st store.Store, opts Options) *Service {
	s := &Service{
		Store:     st,
		roles:     opts.Roles,
		window:    opts.VotingWindow,
		maxSealed: opts.MaxSealedSalt,
		escrowKid: opts.EscrowKid,
		escrowKey: opts.EscrowKey,
		logger:    opts.Logger,
		now:       opts.Clock,
		hasher:    merkle.Keccak{},
		metrics:   newMetrics(opts.Registerer),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxSealed <= 0 {
		s.maxSealed = 8 * 1024
	}
	s.logger = s.logger.With("component", "service")
	return s
}

// Roles returns the configured privileged identities.
func (s *Service) Roles() Roles { return s.roles }

// VotingWindow returns the duration every new assignment is opened for.
func (s *Service) VotingWindow() time.Duration { return s.window }

// EscrowKey returns the public key salt envelopes are sealed to.
func (s *Service) EscrowKey() (uint8, []byte, error) {
	if len(s.escrowKey) == 0 {
		return 0, nil, ErrKeyNotFound
	}
	return s.escrowKid, s.escrowKey, nil
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// update runs fn in a write transaction and records the outcome under op.
func (s *Service) update(ctx context.Context, op string, fn func(store.Tx) error) error {
	err := s.Store.Update(ctx, fn)
	s.metrics.observe(op, err)
	return err
}

func (s *Service) emit(ctx context.Context, tx store.Tx, typ model.EventType, submissionID uint64, actor, subject model.Address, data any) error {
	ev := &model.Event{
		ID:           uuid.NewString(),
		Type:         typ,
		SubmissionID: submissionID,
		Actor:        actor,
		Subject:      subject,
		CreatedAt:    s.clock(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", typ, err)
		}
		ev.Data = raw
	}
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	return nil
}

// Events pages the protocol log in sequence order.
func (s *Service) Events(ctx context.Context, after uint64, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = defaultEventsPg
	}
	if limit > maxEventsPage {
		limit = maxEventsPage
	}
	var out []*model.Event
	err := s.Store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Events(ctx, after, limit)
		return err
	})
	return out, err
}

// loadSubmission maps a missing record to ErrNotFound.
func loadSubmission(ctx context.Context, tx store.Tx, id uint64) (*model.Submission, error) {
	sub, err := tx.Submission(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}
	return sub, err
}
