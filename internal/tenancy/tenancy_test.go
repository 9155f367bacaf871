package tenancy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/store"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		ownerID int64
		allowed bool
	}{
		{"admin sees anything", Actor{ID: 1, Role: store.RoleAdmin}, 99, true},
		{"agent sees own", Actor{ID: 7, Role: store.RoleAgent}, 7, true},
		{"agent denied other", Actor{ID: 7, Role: store.RoleAgent}, 8, false},
		{"agent denied parent's", Actor{ID: 7, Role: store.RoleAgent}, 1, false},
		{"user sees own", Actor{ID: 3, Role: store.RoleUser}, 3, true},
		{"user denied other", Actor{ID: 3, Role: store.RoleUser}, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.actor, tt.ownerID)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestScopeOwner(t *testing.T) {
	assert.Equal(t, int64(0), ScopeOwner(Actor{ID: 1, Role: store.RoleAdmin}))
	assert.Equal(t, int64(7), ScopeOwner(Actor{ID: 7, Role: store.RoleAgent}))
}

func newService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	// Seed the admin row so it occupies ID 1, matching the fictional
	// Actor{ID: 1, Role: RoleAdmin} the tests run as.
	admin := &store.User{Username: "admin", PasswordHash: "h", Role: store.RoleAdmin, IsActive: true}
	require.NoError(t, st.CreateUser(context.Background(), admin))
	require.Equal(t, int64(1), admin.ID)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(st, logger, 4), st
}

func TestCreateAgent(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	admin := Actor{ID: 1, Role: store.RoleAdmin}

	agent, err := svc.CreateAgent(ctx, admin, CreateAgentParams{
		Username: "agent-a", Password: "pw", Balance: 100, Discount: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, store.RoleAgent, agent.Role)
	assert.Equal(t, admin.ID, agent.ParentID)
	assert.NotEqual(t, "pw", agent.PasswordHash)

	got, err := st.UserByUsername(ctx, "agent-a")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, 100.0, got.Balance)
}

func TestCreateAgent_UserForbidden(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CreateAgent(context.Background(), Actor{ID: 3, Role: store.RoleUser},
		CreateAgentParams{Username: "x", Password: "pw"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListAgents_DirectChildrenOnly(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin := Actor{ID: 1, Role: store.RoleAdmin}

	child, err := svc.CreateAgent(ctx, admin, CreateAgentParams{Username: "child", Password: "pw"})
	require.NoError(t, err)
	_, err = svc.CreateAgent(ctx, Actor{ID: child.ID, Role: store.RoleAgent},
		CreateAgentParams{Username: "grandchild", Password: "pw"})
	require.NoError(t, err)

	agents, err := svc.ListAgents(ctx, admin)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "child", agents[0].Username)
}

func TestRecharge(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	admin := Actor{ID: 1, Role: store.RoleAdmin}

	parent, err := svc.CreateAgent(ctx, admin, CreateAgentParams{Username: "parent", Password: "pw"})
	require.NoError(t, err)
	parentActor := Actor{ID: parent.ID, Role: store.RoleAgent}

	child, err := svc.CreateAgent(ctx, parentActor, CreateAgentParams{Username: "child", Password: "pw"})
	require.NoError(t, err)

	entry, err := svc.Recharge(ctx, parentActor, child.ID, 50, "top-up")
	require.NoError(t, err)
	assert.Equal(t, 0.0, entry.BeforeBalance)
	assert.Equal(t, 50.0, entry.AfterBalance)
	assert.Equal(t, parent.ID, entry.OperatorID)

	got, err := st.UserByID(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.Balance)
}

func TestRecharge_NotDirectChild(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin := Actor{ID: 1, Role: store.RoleAdmin}

	a, err := svc.CreateAgent(ctx, admin, CreateAgentParams{Username: "a", Password: "pw"})
	require.NoError(t, err)
	b, err := svc.CreateAgent(ctx, admin, CreateAgentParams{Username: "b", Password: "pw"})
	require.NoError(t, err)

	// Sibling, not child: denied.
	_, err = svc.Recharge(ctx, Actor{ID: a.ID, Role: store.RoleAgent}, b.ID, 10, "")
	assert.ErrorIs(t, err, ErrForbidden)

	// Admin may recharge anyone.
	_, err = svc.Recharge(ctx, admin, b.ID, 10, "")
	assert.NoError(t, err)
}
