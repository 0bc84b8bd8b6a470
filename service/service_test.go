package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/pkc/merkle"
	"github.com/collapsinghierarchy/quorum/service"
	"github.com/collapsinghierarchy/quorum/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const window = 24 * time.Hour

func addr(b byte) model.Address {
	var a model.Address
	a[0] = 0xaa
	a[19] = b
	return a
}

// fixture wires a service over the memory store with a controllable clock,
// eight registered verifiers and the tree committing to them.
type fixture struct {
	t         *testing.T
	ctx       context.Context
	svc       *service.Service
	reg       *prometheus.Registry
	now       time.Time
	owner     model.Address
	coord     model.Address
	author    model.Address
	verifiers []model.Address
	salt      string
	tree      *merkle.Tree
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		owner:  addr(0xf0),
		coord:  addr(0xf1),
		author: addr(0xa0),
		salt:   "secret_salt_123",
		reg:    prometheus.NewRegistry(),
	}
	f.svc = service.New(memory.New(), service.Options{
		Roles:        service.Roles{Owner: f.owner, Coordinator: f.coord},
		VotingWindow: window,
		Registerer:   f.reg,
		Clock:        func() time.Time { return f.now },
	})
	for i := 0; i < model.VerifierCount; i++ {
		f.verifiers = append(f.verifiers, addr(byte(i+1)))
	}
	f.tree = buildTree(t, f.verifiers, f.salt)
	f.register(append([]model.Address{f.author}, f.verifiers...)...)
	return f
}

func buildTree(t *testing.T, verifiers []model.Address, salt string) *merkle.Tree {
	t.Helper()
	members := make([][]byte, len(verifiers))
	for i := range verifiers {
		members[i] = verifiers[i][:]
	}
	tree, err := merkle.FromMembers(merkle.Keccak{}, 3, members, []byte(salt))
	require.NoError(t, err)
	return tree
}

func (f *fixture) register(addrs ...model.Address) {
	f.t.Helper()
	for _, a := range addrs {
		_, err := f.svc.Register(f.ctx, a, "north", "engineering", "QmDoc"+a.String())
		require.NoError(f.t, err)
	}
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) root() model.Hash { return model.Hash(f.tree.Root()) }

func (f *fixture) proof(i int) []model.Hash {
	f.t.Helper()
	p, err := f.tree.Proof(i)
	require.NoError(f.t, err)
	out := make([]model.Hash, len(p))
	for j := range p {
		out[j] = model.Hash(p[j])
	}
	return out
}

func (f *fixture) submit() uint64 {
	f.t.Helper()
	id, err := f.svc.Submit(f.ctx, f.author, []string{"QmImg1"}, "T1")
	require.NoError(f.t, err)
	return id
}

func (f *fixture) commit(id uint64) {
	f.t.Helper()
	require.NoError(f.t, f.svc.CommitVerifiers(f.ctx, f.owner, id, f.root(), nil))
}

func (f *fixture) vote(id uint64, i int, d model.Decision) {
	f.t.Helper()
	require.NoError(f.t, f.svc.SubmitVerification(f.ctx, f.verifiers[i], id, d, f.proof(i)))
}

func (f *fixture) reveal(id uint64) (*service.Outcome, error) {
	return f.svc.RevealFinalSubmissionDecision(f.ctx, f.coord, id, f.salt, f.verifiers)
}

func (f *fixture) score(a model.Address) int64 {
	f.t.Helper()
	c, err := f.svc.Contributor(f.ctx, a)
	require.NoError(f.t, err)
	return c.Score
}

func (f *fixture) contributor(a model.Address) *model.Contributor {
	f.t.Helper()
	c, err := f.svc.Contributor(f.ctx, a)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) submission(id uint64) *model.Submission {
	f.t.Helper()
	sub, err := f.svc.Submission(f.ctx, id)
	require.NoError(f.t, err)
	// finalized exactly when the status is terminal
	require.Equal(f.t, sub.Finalized, sub.Status != model.StatusPending)
	return sub
}

func (f *fixture) scores() map[model.Address]int64 {
	out := map[model.Address]int64{f.author: f.score(f.author)}
	for _, v := range f.verifiers {
		out[v] = f.score(v)
	}
	return out
}

// counter sums every series of the named counter; absent counts as zero.
func (f *fixture) counter(name string) float64 {
	f.t.Helper()
	families, err := f.reg.Gather()
	require.NoError(f.t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
