// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/pkc/merkle"
	"github.com/collapsinghierarchy/quorum/service"
	"github.com/collapsinghierarchy/quorum/store"
)

var errAbort = errors.New("abort")

func addr(b byte) model.Address {
	var a model.Address
	a[0] = 0xcc
	a[19] = b
	return a
}

var epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// Run exercises a fresh, empty store produced by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("Contributors", func(t *testing.T) { testContributors(t, open(t)) })
	t.Run("Submissions", func(t *testing.T) { testSubmissions(t, open(t)) })
	t.Run("AssignmentsAndVotes", func(t *testing.T) { testAssignments(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, open(t)) })
	t.Run("ConcurrentFinalizations", func(t *testing.T) { testConcurrentFinalizations(t, open(t)) })
}

func testContributors(t *testing.T, st store.Store) {
	ctx := context.Background()
	c := &model.Contributor{
		Address: addr(1), Registered: true, Region: "r", Department: "d",
		IDDocHash: "h", Active: true, RegisteredAt: epoch,
	}
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		return tx.InsertContributor(ctx, c)
	}))
	err := st.Update(ctx, func(tx store.Tx) error { return tx.InsertContributor(ctx, c) })
	require.ErrorIs(t, err, store.ErrDuplicate)

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		got, err := tx.ContributorForUpdate(ctx, addr(1))
		if err != nil {
			return err
		}
		got.Score = -3
		got.Active = false
		return tx.UpdateContributor(ctx, got)
	}))

	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		got, err := tx.Contributor(ctx, addr(1))
		require.NoError(t, err)
		assert.True(t, got.Registered)
		assert.Equal(t, "r", got.Region)
		assert.EqualValues(t, -3, got.Score)
		assert.False(t, got.Active)
		assert.True(t, epoch.Equal(got.RegisteredAt))

		_, err = tx.Contributor(ctx, addr(2))
		assert.ErrorIs(t, err, store.ErrNotFound)

		inactive, err := tx.InactiveContributors(ctx)
		require.NoError(t, err)
		assert.Equal(t, []model.Address{addr(1)}, inactive)
		return nil
	}))

	err = st.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateContributor(ctx, &model.Contributor{Address: addr(9)})
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func insertSubmission(t *testing.T, st store.Store) uint64 {
	t.Helper()
	ctx := context.Background()
	var id uint64
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		var err error
		if id, err = tx.NextSubmissionID(ctx); err != nil {
			return err
		}
		return tx.InsertSubmission(ctx, &model.Submission{
			ID: id, Submitter: addr(1), ImageHashes: []string{"i1", "i2"},
			TextHash: "t", Status: model.StatusPending, CreatedAt: epoch,
		})
	}))
	return id
}

func testSubmissions(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.EqualValues(t, 1, insertSubmission(t, st))
	require.EqualValues(t, 2, insertSubmission(t, st))

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		s, err := tx.Submission(ctx, 2)
		if err != nil {
			return err
		}
		s.Status = model.StatusAccepted
		s.Finalized = true
		s.VoteCount = 6
		return tx.UpdateSubmission(ctx, s)
	}))
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error { return tx.DeleteSubmission(ctx, 1) }))
	err := st.Update(ctx, func(tx store.Tx) error { return tx.DeleteSubmission(ctx, 1) })
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		n, err := tx.SubmissionCounter(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		_, err = tx.Submission(ctx, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)

		s, err := tx.Submission(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, addr(1), s.Submitter)
		assert.Equal(t, []string{"i1", "i2"}, s.ImageHashes)
		assert.Equal(t, model.StatusAccepted, s.Status)
		assert.True(t, s.Finalized)
		assert.EqualValues(t, 6, s.VoteCount)
		assert.True(t, epoch.Equal(s.CreatedAt))
		return nil
	}))
}

func testAssignments(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := insertSubmission(t, st)
	a := &model.Assignment{
		SubmissionID: id, MerkleRoot: model.Hash{1, 2, 3},
		WindowOpenedAt: epoch, WindowDuration: time.Hour,
		SealedSalt: []byte("envelope"), SaltKid: 4,
	}
	vote := func(b byte) *model.Vote {
		v := &model.Vote{SubmissionID: id, Verifier: addr(b), Decision: model.DecisionAccept, SubmittedAt: epoch}
		v.Proof[0] = model.Hash{b}
		v.Proof[2] = model.Hash{0xff, b}
		return v
	}

	err := st.Update(ctx, func(tx store.Tx) error { return tx.InsertVote(ctx, vote(1)) })
	require.ErrorIs(t, err, store.ErrNotFound, "votes need an assignment")

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutAssignment(ctx, a); err != nil {
			return err
		}
		if err := tx.InsertVote(ctx, vote(1)); err != nil {
			return err
		}
		return tx.InsertVote(ctx, vote(2))
	}))
	err = st.Update(ctx, func(tx store.Tx) error { return tx.InsertVote(ctx, vote(2)) })
	require.ErrorIs(t, err, store.ErrDuplicate)

	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		got, err := tx.Assignment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, a.MerkleRoot, got.MerkleRoot)
		assert.Equal(t, time.Hour, got.WindowDuration)
		assert.True(t, epoch.Equal(got.WindowOpenedAt))
		assert.Equal(t, []byte("envelope"), got.SealedSalt)
		assert.EqualValues(t, 4, got.SaltKid)

		votes, err := tx.Votes(ctx, id)
		require.NoError(t, err)
		require.Len(t, votes, 2)
		byVerifier := map[model.Address]*model.Vote{}
		for _, v := range votes {
			byVerifier[v.Verifier] = v
		}
		assert.Equal(t, vote(2).Proof, byVerifier[addr(2)].Proof)
		assert.Equal(t, model.DecisionAccept, byVerifier[addr(1)].Decision)
		return nil
	}))

	// replacing the assignment drops its votes
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error { return tx.PutAssignment(ctx, a) }))
	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		votes, err := tx.Votes(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, votes)
		return nil
	}))

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertVote(ctx, vote(3)); err != nil {
			return err
		}
		return tx.DeleteAssignment(ctx, id)
	}))
	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		_, err := tx.Assignment(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound)
		votes, err := tx.Votes(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, votes)
		return nil
	}))

	err = st.Update(ctx, func(tx store.Tx) error {
		return tx.PutAssignment(ctx, &model.Assignment{SubmissionID: 999, WindowOpenedAt: epoch})
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testRollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	err := st.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.NextSubmissionID(ctx); err != nil {
			return err
		}
		if err := tx.InsertContributor(ctx, &model.Contributor{Address: addr(7), Active: true, RegisteredAt: epoch}); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		n, err := tx.SubmissionCounter(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		_, err = tx.Contributor(ctx, addr(7))
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func testEvents(t *testing.T, st store.Store) {
	ctx := context.Background()
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		for i := 0; i < 5; i++ {
			e := &model.Event{
				ID: uuid.NewString(), Type: model.EventVoteRecorded, SubmissionID: uint64(i),
				Actor: addr(byte(i)), Data: []byte(`{"n":1}`), CreatedAt: epoch,
			}
			if err := tx.AppendEvent(ctx, e); err != nil {
				return err
			}
			if e.Seq == 0 {
				return errors.New("sequence not assigned")
			}
		}
		return nil
	}))
	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		all, err := tx.Events(ctx, 0, 100)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, model.EventVoteRecorded, all[0].Type)
		assert.Equal(t, addr(3), all[3].Actor)
		assert.JSONEq(t, `{"n":1}`, string(all[0].Data))

		page, err := tx.Events(ctx, all[1].Seq, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, all[2].Seq, page[0].Seq)
		return nil
	}))
}

// testConcurrentFinalizations reveals two submissions that share their
// verifiers at the same time. Each reveal must see the other's score
// deltas, so no update is lost whatever the backend's isolation strategy.
func testConcurrentFinalizations(t *testing.T, st store.Store) {
	ctx := context.Background()
	owner, coord, author := addr(0xf0), addr(0xf1), addr(0xa0)
	now := epoch
	svc := service.New(st, service.Options{
		Roles:        service.Roles{Owner: owner, Coordinator: coord},
		VotingWindow: time.Hour,
		Clock:        func() time.Time { return now },
	})

	verifiers := make([]model.Address, model.VerifierCount)
	members := make([][]byte, model.VerifierCount)
	for i := range verifiers {
		verifiers[i] = addr(byte(0x10 + i))
		members[i] = verifiers[i][:]
	}
	for _, a := range append([]model.Address{author}, verifiers...) {
		_, err := svc.Register(ctx, a, "north", "engineering", "QmDoc")
		require.NoError(t, err)
	}
	const salt = "shared_salt"
	tree, err := merkle.FromMembers(merkle.Keccak{}, 3, members, []byte(salt))
	require.NoError(t, err)
	proof := func(i int) []model.Hash {
		p, err := tree.Proof(i)
		require.NoError(t, err)
		out := make([]model.Hash, len(p))
		for j := range p {
			out[j] = model.Hash(p[j])
		}
		return out
	}

	var ids [2]uint64
	for k, accepting := range []int{5, 6} {
		id, err := svc.Submit(ctx, author, nil, "T")
		require.NoError(t, err)
		require.NoError(t, svc.CommitVerifiers(ctx, owner, id, model.Hash(tree.Root()), nil))
		for i := 0; i < accepting; i++ {
			require.NoError(t, svc.SubmitVerification(ctx, verifiers[i], id, model.DecisionAccept, proof(i)))
		}
		ids[k] = id
	}
	now = now.Add(time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for k, id := range ids {
		wg.Add(1)
		go func(k int, id uint64) {
			defer wg.Done()
			_, errs[k] = svc.RevealFinalSubmissionDecision(ctx, coord, id, salt, verifiers)
		}(k, id)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	want := map[model.Address]int64{author: 8}
	for i, v := range verifiers {
		switch {
		case i < 5:
			want[v] = 6
		case i == 5:
			want[v] = 2
		default:
			want[v] = -2
		}
	}
	for a, score := range want {
		c, err := svc.Contributor(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, score, c.Score, "score of %s", a)
	}
	for _, id := range ids {
		sub, err := svc.Submission(ctx, id)
		require.NoError(t, err)
		assert.True(t, sub.Finalized)
		assert.Equal(t, model.StatusAccepted, sub.Status)
	}
}
