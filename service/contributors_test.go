package service_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/quorum/model"
	"github.com/collapsinghierarchy/quorum/service"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)
	newcomer := addr(0x50)

	c, err := f.svc.Register(f.ctx, newcomer, " south ", "ops", "QmID")
	require.NoError(t, err)
	assert.True(t, c.Registered)
	assert.True(t, c.Active)
	assert.Zero(t, c.Score)
	assert.Equal(t, "south", c.Region)

	_, err = f.svc.Register(f.ctx, newcomer, "south", "ops", "QmID")
	require.ErrorIs(t, err, service.ErrAlreadyRegistered)

	_, err = f.svc.Register(f.ctx, addr(0x51), "south", "", "QmID")
	require.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestRegisterFieldLimits(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("r", model.MaxProfileField+1)
	edge := strings.Repeat("r", model.MaxProfileField)

	_, err := f.svc.Register(f.ctx, addr(0x52), long, "ops", "QmID")
	require.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = f.svc.Register(f.ctx, addr(0x52), "south", long, "QmID")
	require.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = f.svc.Register(f.ctx, addr(0x52), "south", "ops", long)
	require.ErrorIs(t, err, service.ErrInvalidInput)
	assert.False(t, f.contributor(addr(0x52)).Registered)

	c, err := f.svc.Register(f.ctx, addr(0x52), edge, edge, edge)
	require.NoError(t, err)
	assert.Equal(t, edge, c.Region)
}

func TestContributorUnknownIsUnregistered(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Contributor(f.ctx, addr(0x77))
	require.NoError(t, err)
	assert.False(t, c.Registered)
	assert.False(t, c.Active)
}

func TestBanReinstateResubmit(t *testing.T) {
	f := newFixture(t)
	b := addr(0xb0)
	f.register(b)

	require.NoError(t, f.svc.BanContributor(f.ctx, f.owner, b))
	c := f.contributor(b)
	assert.EqualValues(t, -3, c.Score)
	assert.False(t, c.Active)
	// banning a suspended contributor again is not a new suspension
	require.NoError(t, f.svc.BanContributor(f.ctx, f.coord, b))
	assert.EqualValues(t, 1, f.counter("quorum_suspensions_total"))

	_, err := f.svc.Submit(f.ctx, b, nil, "T2")
	require.ErrorIs(t, err, service.ErrSuspended)

	require.NoError(t, f.svc.ReinstateContributor(f.ctx, f.coord, b))
	c = f.contributor(b)
	assert.Zero(t, c.Score)
	assert.True(t, c.Active)

	id, err := f.svc.Submit(f.ctx, b, nil, "T2")
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestBanRequiresAdminAndKnownTarget(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.svc.BanContributor(f.ctx, f.author, f.verifiers[0]), service.ErrForbidden)
	require.ErrorIs(t, f.svc.BanContributor(f.ctx, f.owner, addr(0x99)), service.ErrNotFound)
	require.ErrorIs(t, f.svc.ReinstateContributor(f.ctx, f.verifiers[0], f.author), service.ErrForbidden)
}

func TestBannedContributorsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.BanContributor(f.ctx, f.coord, f.verifiers[3]))

	_, err := f.svc.BannedContributors(f.ctx, f.coord)
	require.ErrorIs(t, err, service.ErrForbidden)
	_, err = f.svc.BannedContributors(f.ctx, f.author)
	require.ErrorIs(t, err, service.ErrForbidden)

	banned, err := f.svc.BannedContributors(f.ctx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, []model.Address{f.verifiers[3]}, banned)
}

func TestIsAdmin(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.svc.IsAdmin(f.owner))
	assert.True(t, f.svc.IsAdmin(f.coord))
	assert.False(t, f.svc.IsAdmin(f.author))
	assert.False(t, service.Roles{}.IsAdmin(addr(0)))
}
