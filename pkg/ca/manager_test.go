package ca

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/audit"
	"github.com/dreyhq/drey/pkg/rbac"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
)

type managerFixture struct {
	manager     *Manager
	store       *storage.Mem
	globalAdmin *types.User
	teamAdmin   *types.User
	member      *types.User
	team        *types.Team
	resource    *types.Resource
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	store := storage.NewMem()
	global := store.SeedTeam("platform", true)
	team := store.SeedTeam("payments", false)

	globalAdmin := store.SeedUser("root")
	teamAdmin := store.SeedUser("lead")
	member := store.SeedUser("dev")
	store.SeedMembership(globalAdmin.ID, global.ID, types.TeamRoleAdmin)
	store.SeedMembership(teamAdmin.ID, team.ID, types.TeamRoleAdmin)
	store.SeedMembership(member.ID, team.ID, types.TeamRoleMember)

	rt := store.SeedResourceType(types.ResourceType{Name: types.TypePostgreSQL})
	res := &types.Resource{
		Name:           "orders-db",
		ResourceTypeID: rt.ID,
		TeamID:         team.ID,
		Status:         types.StatusActive,
		LifecycleMode:  types.LifecycleFull,
	}
	require.NoError(t, store.CreateResource(context.Background(), res))

	manager := NewManager(store, NewService(), rbac.NewChecker(store), audit.NewRecorder(store))
	return &managerFixture{
		manager:     manager,
		store:       store,
		globalAdmin: globalAdmin,
		teamAdmin:   teamAdmin,
		member:      member,
		team:        team,
		resource:    res,
	}
}

func TestCreateCARequiresGlobalAdmin(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.CreateCA(ctx, f.teamAdmin.ID, "internal", "Drey Internal CA")
	assert.True(t, errors.Is(err, rbac.ErrAccessDenied))

	ca, err := f.manager.CreateCA(ctx, f.globalAdmin.ID, "internal", "Drey Internal CA")
	require.NoError(t, err)
	assert.True(t, ca.IsManaged)
	assert.Equal(t, types.CATypeSelfSigned, ca.Type)

	logs := f.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.ActionCACreated, logs[0].Action)
}

func TestGenerateCertificateForResourceRequiresTeamAdmin(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	ca, err := f.manager.CreateCA(ctx, f.globalAdmin.ID, "internal", "Drey Internal CA")
	require.NoError(t, err)

	// Team members cannot issue certificates.
	_, err = f.manager.GenerateCertificate(ctx, f.member.ID, ca.ID, &f.resource.ID,
		"orders-db.team-2.svc.cluster.local", nil, nil, 365, true)
	assert.True(t, errors.Is(err, rbac.ErrAccessDenied))

	// Admins of the owning team can.
	cert, err := f.manager.GenerateCertificate(ctx, f.teamAdmin.ID, ca.ID, &f.resource.ID,
		"orders-db.team-2.svc.cluster.local", nil, nil, 365, true)
	require.NoError(t, err)
	assert.Equal(t, &f.resource.ID, cert.ResourceID)
	assert.True(t, cert.AutoRenew)
}

func TestGenerateUnboundCertificateRequiresGlobalAdmin(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	ca, err := f.manager.CreateCA(ctx, f.globalAdmin.ID, "internal", "Drey Internal CA")
	require.NoError(t, err)

	_, err = f.manager.GenerateCertificate(ctx, f.teamAdmin.ID, ca.ID, nil, "metrics.drey.internal", nil, nil, 365, false)
	assert.True(t, errors.Is(err, rbac.ErrAccessDenied))

	cert, err := f.manager.GenerateCertificate(ctx, f.globalAdmin.ID, ca.ID, nil, "metrics.drey.internal", nil, nil, 365, false)
	require.NoError(t, err)
	assert.Nil(t, cert.ResourceID)
}

func TestRenewAndRevokeCertificate(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	ca, err := f.manager.CreateCA(ctx, f.globalAdmin.ID, "internal", "Drey Internal CA")
	require.NoError(t, err)
	cert, err := f.manager.GenerateCertificate(ctx, f.teamAdmin.ID, ca.ID, &f.resource.ID,
		"orders-db.team-2.svc.cluster.local", []string{"orders-db"}, nil, 30, true)
	require.NoError(t, err)
	oldSerial := cert.SerialNumber

	renewed, err := f.manager.RenewCertificate(ctx, f.teamAdmin.ID, cert.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldSerial, renewed.SerialNumber)
	assert.Equal(t, cert.CommonName, renewed.CommonName)

	require.NoError(t, f.manager.RevokeCertificate(ctx, f.teamAdmin.ID, cert.ID))
	_, err = f.store.GetCertificate(ctx, cert.ID)
	assert.True(t, storage.IsNotFound(err))
}

func TestImportCA(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	external, err := NewService().CreateCA("legacy", "Legacy Root")
	require.NoError(t, err)

	// Without a private key the CA is read-only.
	imported, err := f.manager.ImportCA(ctx, f.globalAdmin.ID, "legacy", external.CertificatePEM, "", types.CATypeRoot)
	require.NoError(t, err)
	assert.False(t, imported.IsManaged)
	assert.Equal(t, external.SerialNumber, imported.SerialNumber)

	_, err = f.manager.ImportCA(ctx, f.globalAdmin.ID, "bad", "not pem", "", types.CATypeRoot)
	require.Error(t, err)
	assert.True(t, IsInvalidPEM(err))
}
