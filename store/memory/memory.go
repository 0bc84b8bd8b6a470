// Package memory is an in-process store. Writers are serialised and work on
// a copy of the state that replaces the live one only when the unit of work
// succeeds, so a failed operation leaves nothing behind.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/store"
)

type state struct {
	contributors map[model.Address]*model.Contributor
	submissions  map[uint64]*model.Submission
	assignments  map[uint64]*model.Assignment
	votes        map[uint64][]*model.Vote
	events       []*model.Event
	counter      uint64
}

func newState() *state {
	return &state{
		contributors: map[model.Address]*model.Contributor{},
		submissions:  map[uint64]*model.Submission{},
		assignments:  map[uint64]*model.Assignment{},
		votes:        map[uint64][]*model.Vote{},
	}
}

// clone copies the indexes. Records are never mutated in place, so sharing
// the pointers is safe.
func (s *state) clone() *state {
	c := &state{
		contributors: make(map[model.Address]*model.Contributor, len(s.contributors)),
		submissions:  make(map[uint64]*model.Submission, len(s.submissions)),
		assignments:  make(map[uint64]*model.Assignment, len(s.assignments)),
		votes:        make(map[uint64][]*model.Vote, len(s.votes)),
		events:       s.events,
		counter:      s.counter,
	}
	for k, v := range s.contributors {
		c.contributors[k] = v
	}
	for k, v := range s.submissions {
		c.submissions[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.votes {
		c.votes[k] = v
	}
	return c
}

type memStore struct {
	mu  sync.RWMutex
	cur *state
}

func New() store.Store { return &memStore{cur: newState()} }

func (m *memStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.cur.clone()
	if err := fn(&tx{st: next, writable: true}); err != nil {
		return err
	}
	m.cur = next
	return nil
}

func (m *memStore) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&tx{st: m.cur})
}

func (m *memStore) Close() error { return nil }

type tx struct {
	st       *state
	writable bool
}

var errReadOnly = errors.New("memory: write in read-only transaction")

func (t *tx) check() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

// -------- contributors ----------------------------------------------------

func (t *tx) Contributor(_ context.Context, addr model.Address) (*model.Contributor, error) {
	c, ok := t.st.contributors[addr]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *tx) ContributorForUpdate(ctx context.Context, addr model.Address) (*model.Contributor, error) {
	return t.Contributor(ctx, addr)
}

func (t *tx) InsertContributor(_ context.Context, c *model.Contributor) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.contributors[c.Address]; ok {
		return store.ErrDuplicate
	}
	cp := *c
	t.st.contributors[c.Address] = &cp
	return nil
}

func (t *tx) UpdateContributor(_ context.Context, c *model.Contributor) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.contributors[c.Address]; !ok {
		return store.ErrNotFound
	}
	cp := *c
	t.st.contributors[c.Address] = &cp
	return nil
}

func (t *tx) InactiveContributors(_ context.Context) ([]model.Address, error) {
	var out []model.Address
	for addr, c := range t.st.contributors {
		if !c.Active {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// -------- submissions -----------------------------------------------------

func (t *tx) NextSubmissionID(_ context.Context) (uint64, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	t.st.counter++
	return t.st.counter, nil
}

func (t *tx) SubmissionCounter(_ context.Context) (uint64, error) {
	return t.st.counter, nil
}

func (t *tx) Submission(_ context.Context, id uint64) (*model.Submission, error) {
	s, ok := t.st.submissions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySubmission(s), nil
}

func (t *tx) InsertSubmission(_ context.Context, s *model.Submission) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.submissions[s.ID]; ok {
		return store.ErrDuplicate
	}
	t.st.submissions[s.ID] = copySubmission(s)
	return nil
}

func (t *tx) UpdateSubmission(_ context.Context, s *model.Submission) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.submissions[s.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.submissions[s.ID] = copySubmission(s)
	return nil
}

func (t *tx) DeleteSubmission(_ context.Context, id uint64) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.submissions[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.submissions, id)
	delete(t.st.assignments, id)
	delete(t.st.votes, id)
	return nil
}

func copySubmission(s *model.Submission) *model.Submission {
	cp := *s
	cp.ImageHashes = append([]string(nil), s.ImageHashes...)
	return &cp
}

// -------- assignments & votes ---------------------------------------------

func (t *tx) Assignment(_ context.Context, id uint64) (*model.Assignment, error) {
	a, ok := t.st.assignments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	cp.SealedSalt = append([]byte(nil), a.SealedSalt...)
	return &cp, nil
}

func (t *tx) PutAssignment(_ context.Context, a *model.Assignment) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.submissions[a.SubmissionID]; !ok {
		return store.ErrNotFound
	}
	cp := *a
	cp.SealedSalt = append([]byte(nil), a.SealedSalt...)
	t.st.assignments[a.SubmissionID] = &cp
	delete(t.st.votes, a.SubmissionID)
	return nil
}

func (t *tx) DeleteAssignment(_ context.Context, id uint64) error {
	if err := t.check(); err != nil {
		return err
	}
	delete(t.st.assignments, id)
	delete(t.st.votes, id)
	return nil
}

func (t *tx) Votes(_ context.Context, id uint64) ([]*model.Vote, error) {
	vs := t.st.votes[id]
	out := make([]*model.Vote, len(vs))
	for i, v := range vs {
		cp := *v
		out[i] = &cp
	}
	return out, nil
}

func (t *tx) InsertVote(_ context.Context, v *model.Vote) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.assignments[v.SubmissionID]; !ok {
		return store.ErrNotFound
	}
	prev := t.st.votes[v.SubmissionID]
	for _, p := range prev {
		if p.Verifier == v.Verifier {
			return store.ErrDuplicate
		}
	}
	cp := *v
	next := make([]*model.Vote, len(prev), len(prev)+1)
	copy(next, prev)
	t.st.votes[v.SubmissionID] = append(next, &cp)
	return nil
}

// -------- events ----------------------------------------------------------

func (t *tx) AppendEvent(_ context.Context, e *model.Event) error {
	if err := t.check(); err != nil {
		return err
	}
	e.Seq = uint64(len(t.st.events)) + 1
	cp := *e
	t.st.events = append(t.st.events, &cp)
	return nil
}

func (t *tx) Events(_ context.Context, after uint64, limit int) ([]*model.Event, error) {
	if after >= uint64(len(t.st.events)) {
		return nil, nil
	}
	rest := t.st.events[after:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]*model.Event, len(rest))
	for i, e := range rest {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
