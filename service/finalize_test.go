package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/service"
)

func TestTallyDecide(t *testing.T) {
	cases := []struct {
		tally service.Tally
		want  model.Decision
		ok    bool
	}{
		{service.Tally{Accept: 5}, model.DecisionAccept, true},
		{service.Tally{Accept: 3, Reject: 2}, model.DecisionAccept, true},
		{service.Tally{Accept: 2, Reject: 3}, model.DecisionReject, true},
		{service.Tally{Accept: 4}, "", false},
		{service.Tally{Accept: 3, Reject: 3}, "", false},
		{service.Tally{Accept: 4, Reject: 4}, "", false},
		{service.Tally{Accept: 5, Reject: 3}, model.DecisionAccept, true},
	}
	for _, c := range cases {
		got, ok := c.tally.Decide()
		assert.Equal(t, c.ok, ok, "%+v", c.tally)
		assert.Equal(t, c.want, got, "%+v", c.tally)
	}
}

// Five assigned verifiers accept, three stay silent.
func TestScenarioAccepted(t *testing.T) {
	f := newFixture(t)
	id := f.submit()
	f.commit(id)
	for i := 0; i < 5; i++ {
		f.vote(id, i, model.DecisionAccept)
	}
	f.advance(window)

	out, err := f.reveal(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, out.Status)
	assert.Equal(t, service.Tally{Accept: 5}, out.Tally)

	sub := f.submission(id)
	assert.Equal(t, model.StatusAccepted, sub.Status)
	assert.True(t, sub.Finalized)
	assert.EqualValues(t, 5, sub.VoteCount)

	assert.EqualValues(t, 4, f.score(f.author))
	for i, v := range f.verifiers {
		if i < 5 {
			assert.EqualValues(t, 3, f.score(v), "voter %d", i)
		} else {
			assert.EqualValues(t, -1, f.score(v), "non-voter %d", i)
		}
	}
}

// Five votes arrive but two proofs fail at reveal: three valid votes are not enough.
func TestScenarioInsufficientAfterRevalidation(t *testing.T) {
	f := newFixture(t)
	id := f.submit()
	f.commit(id)
	for i := 0; i < 3; i++ {
		f.vote(id, i, model.DecisionAccept)
	}
	// verifiers 3 and 4 submit each other's proofs
	require.NoError(t, f.svc.SubmitVerification(f.ctx, f.verifiers[3], id, model.DecisionAccept, f.proof(4)))
	require.NoError(t, f.svc.SubmitVerification(f.ctx, f.verifiers[4], id, model.DecisionAccept, f.proof(3)))
	f.advance(window)

	before := f.scores()
	_, err := f.reveal(id)
	require.ErrorIs(t, err, service.ErrInsufficientConsensus)

	assert.Equal(t, before, f.scores())
	sub := f.submission(id)
	assert.Equal(t, model.StatusPending, sub.Status)
	// attempts stay on record when the reveal finds too few valid votes
	assert.EqualValues(t, 5, sub.VoteCount)
}

func TestRevealIgnoresUnassignedVoters(t *testing.T) {
	f := newFixture(t)
	outsiders := []model.Address{addr(0x31), addr(0x32)}
	f.register(outsiders...)
	id := f.submit()
	f.commit(id)
	for i := 0; i < 4; i++ {
		f.vote(id, i, model.DecisionReject)
	}
	for _, o := range outsiders {
		require.NoError(t, f.svc.SubmitVerification(f.ctx, o, id, model.DecisionReject, f.proof(7)))
	}
	f.advance(window)

	_, err := f.reveal(id)
	require.ErrorIs(t, err, service.ErrInsufficientConsensus)
	for _, o := range outsiders {
		assert.Zero(t, f.score(o))
	}
}

func TestRevealTieIsInsufficient(t *testing.T) {
	f := newFixture(t)
	id := f.submit()
	f.commit(id)
	for i := 0; i < 6; i++ {
		d := model.DecisionAccept
		if i%2 == 1 {
			d = model.DecisionReject
		}
		f.vote(id, i, d)
	}
	f.advance(window)
	_, err := f.reveal(id)
	require.ErrorIs(t, err, service.ErrInsufficientConsensus)
}

func TestRevealRejectedMajority(t *testing.T) {
	f := newFixture(t)
	id := f.submit()
	f.commit(id)
	for i := 0; i < 4; i++ {
		f.vote(id, i, model.DecisionReject)
	}
	f.vote(id, 4, model.DecisionAccept)
	f.vote(id, 5, model.DecisionAccept)
	f.advance(window)

	out, err := f.reveal(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Len(t, out.Valid, 6)

	assert.EqualValues(t, 1, f.score(f.author))
	assert.EqualValues(t, 3, f.score(f.verifiers[0]))
	assert.EqualValues(t, 1, f.score(f.verifiers[4]), "minority vote earns the validity point only")
	assert.EqualValues(t, -1, f.score(f.verifiers[7]))
	assert.EqualValues(t, 6, f.submission(id).VoteCount)
}

func TestRevealSaltMismatchChangesNothing(t *testing.T) {
	f := newFixture(t)
	id := f.submit()
	f.commit(id)
	for i := 0; i < 5; i++ {
		f.vote(id, i, model.DecisionAccept)
	}
	f.advance(window)
	before := f.scores()

	_, err := f.svc.RevealFinalSubmissionDecision(f.ctx, f.owner, id, "wrong", f.verifiers)
	require.ErrorIs(t, err, service.ErrSaltMismatch)

	// right salt, wrong order
	swapped := append([]model.Address(nil), f.verifiers...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	_, err = f.svc.RevealFinalSubmissionDecision(f.ctx, f.owner, id, f.salt, swapped)
	require.ErrorIs(t, err, service.ErrSaltMismatch)

	assert.Equal(t, before, f.scores())
	assert.Equal(t, model.StatusPending, f.submission(id).Status)

	_, err = f.reveal(id)
	require.NoError(t, err)
}

func TestRevealPreconditions(t *testing.T) {
	f := newFixture(t)
	id := f.submit()

	_, err := f.svc.RevealFinalSubmissionDecision(f.ctx, f.author, id, f.salt, f.verifiers)
	require.ErrorIs(t, err, service.ErrForbidden)
	_, err = f.reveal(77)
	require.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.reveal(id)
	require.ErrorIs(t, err, service.ErrInvalidState, "no assignment")

	_, err = f.svc.RevealFinalSubmissionDecision(f.ctx, f.owner, id, f.salt, f.verifiers[:7])
	require.ErrorIs(t, err, service.ErrInvalidInput)
	dup := append([]model.Address(nil), f.verifiers...)
	dup[7] = dup[0]
	_, err = f.svc.RevealFinalSubmissionDecision(f.ctx, f.owner, id, f.salt, dup)
	require.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = f.svc.RevealFinalSubmissionDecision(f.ctx, f.owner, id, "", f.verifiers)
	require.ErrorIs(t, err, service.ErrInvalidInput)

	f.commit(id)
	for i := 0; i < 5; i++ {
		f.vote(id, i, model.DecisionAccept)
	}
	_, err = f.reveal(id)
	require.ErrorIs(t, err, service.ErrInvalidState, "window still open")

	f.advance(window)
	_, err = f.reveal(id)
	require.NoError(t, err)
	_, err = f.reveal(id)
	require.ErrorIs(t, err, service.ErrInvalidState, "already finalized")
}

func TestReVerify(t *testing.T) {
	f := newFixture(t)
	id := f.submit()

	require.ErrorIs(t, f.svc.ReVerifySubmission(f.ctx, f.owner, id), service.ErrInvalidState)
	require.ErrorIs(t, f.svc.ReVerifySubmission(f.ctx, f.owner, 40), service.ErrNotFound)

	f.commit(id)
	for i := 0; i < 5; i++ {
		f.vote(id, i, model.DecisionAccept)
	}
	f.advance(window)
	_, err := f.reveal(id)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.ReVerifySubmission(f.ctx, f.author, id), service.ErrForbidden)
	require.NoError(t, f.svc.ReVerifySubmission(f.ctx, f.coord, id))

	sub := f.submission(id)
	assert.Equal(t, model.StatusPending, sub.Status)
	assert.False(t, sub.Finalized)
	assert.Zero(t, sub.VoteCount)

	_, err = f.svc.Assignment(f.ctx, id)
	require.ErrorIs(t, err, service.ErrNotFound)
	err = f.svc.SubmitVerification(f.ctx, f.verifiers[5], id, model.DecisionReject, f.proof(5))
	require.ErrorIs(t, err, service.ErrInvalidState, "voting needs a fresh commit")

	// the earlier five votes do not carry over
	f.commit(id)
	f.vote(id, 5, model.DecisionReject)
	f.advance(window)
	_, err = f.reveal(id)
	require.ErrorIs(t, err, service.ErrInsufficientConsensus)
}

func TestMissedVotesSuspend(t *testing.T) {
	f := newFixture(t)
	id := f.submit()
	idle := f.verifiers[7]

	for round := 1; round <= 3; round++ {
		f.commit(id)
		for i := 0; i < 5; i++ {
			f.vote(id, i, model.DecisionAccept)
		}
		f.advance(window)
		_, err := f.reveal(id)
		require.NoError(t, err)
		require.EqualValues(t, -round, f.score(idle))
		require.NoError(t, f.svc.ReVerifySubmission(f.ctx, f.owner, id))
	}

	c := f.contributor(idle)
	assert.EqualValues(t, -3, c.Score)
	assert.False(t, c.Active, "score at the ban threshold suspends")

	banned, err := f.svc.BannedContributors(f.ctx, f.owner)
	require.NoError(t, err)
	assert.Contains(t, banned, idle)
	// submitter keeps the credit of each round
	assert.EqualValues(t, 12, f.score(f.author))
	assert.EqualValues(t, 1, f.counter("quorum_suspensions_total"))
}

func TestFailedRevealCountsNoSuspension(t *testing.T) {
	f := newFixture(t)
	id := f.submit()
	idle := f.verifiers[7]

	// two missed rounds leave the idle verifier one step above the threshold
	for round := 1; round <= 2; round++ {
		f.commit(id)
		for i := 0; i < 5; i++ {
			f.vote(id, i, model.DecisionAccept)
		}
		f.advance(window)
		_, err := f.reveal(id)
		require.NoError(t, err)
		require.NoError(t, f.svc.ReVerifySubmission(f.ctx, f.owner, id))
	}
	require.EqualValues(t, -2, f.score(idle))

	// a wrong salt rolls the whole reveal back, so nothing is counted
	f.commit(id)
	for i := 0; i < 5; i++ {
		f.vote(id, i, model.DecisionAccept)
	}
	f.advance(window)
	_, err := f.svc.RevealFinalSubmissionDecision(f.ctx, f.coord, id, "wrong_salt", f.verifiers)
	require.Error(t, err)
	assert.EqualValues(t, -2, f.score(idle))
	assert.Zero(t, f.counter("quorum_suspensions_total"))

	_, err = f.reveal(id)
	require.NoError(t, err)
	assert.False(t, f.contributor(idle).Active)
	assert.EqualValues(t, 1, f.counter("quorum_suspensions_total"))
}

func TestEventsFollowTheProtocol(t *testing.T) {
	f := newFixture(t)
	id := f.submit()
	f.commit(id)
	for i := 0; i < 5; i++ {
		f.vote(id, i, model.DecisionAccept)
	}
	f.advance(window)
	_, err := f.reveal(id)
	require.NoError(t, err)

	evs, err := f.svc.Events(f.ctx, 0, 500)
	require.NoError(t, err)
	counts := map[model.EventType]int{}
	for i, e := range evs {
		assert.EqualValues(t, i+1, e.Seq)
		counts[e.Type]++
	}
	assert.Equal(t, 9, counts[model.EventContributorRegistered])
	assert.Equal(t, 1, counts[model.EventSubmissionCreated])
	assert.Equal(t, 1, counts[model.EventVerifiersCommitted])
	assert.Equal(t, 5, counts[model.EventVoteRecorded])
	assert.Equal(t, 1, counts[model.EventSubmissionFinalized])
	assert.Equal(t, 9, counts[model.EventScoreChanged])

	for _, e := range evs {
		if e.Type != model.EventVoteRecorded {
			continue
		}
		assert.Zero(t, e.Actor, "vote events are anonymous")
		assert.Zero(t, e.Subject)
		for _, v := range f.verifiers {
			assert.NotContains(t, string(e.Data), v.String())
		}
	}

	page, err := f.svc.Events(f.ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.EqualValues(t, 11, page[0].Seq)
}
