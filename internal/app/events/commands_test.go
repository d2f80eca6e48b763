package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userKey struct{}

func withUser(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

var contextIdentity = IdentityFunc(func(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok
})

func TestCommands_UnauthenticatedSession(t *testing.T) {
	repo, _ := newTestRepo(t)
	cmds := NewCommands(repo, contextIdentity)
	ctx := context.Background()

	_, err := cmds.OnCreate(ctx, CreateRequest{Title: "t", Description: "d", Date: "x"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = cmds.OnListRequest(ctx)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, cmds.OnDelete(ctx, "e1"), ErrUnauthenticated)

	noProvider := NewCommands(repo, nil)
	_, err = noProvider.OnFavoritesRequest(withUser(ctx, "U"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCommands_MultipleUsersInOneProcess(t *testing.T) {
	repo, _ := newTestRepo(t)
	cmds := NewCommands(repo, contextIdentity)
	alice := withUser(context.Background(), "alice")
	bob := withUser(context.Background(), "bob")

	ev, err := cmds.OnCreate(alice, CreateRequest{Title: "Standup", Description: "Daily sync", Date: "2024-05-01"})
	require.NoError(t, err)
	assert.Equal(t, "alice", ev.OwnerID)

	_, err = cmds.OnToggleFavorite(bob, ev.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cmds.OnToggleFavorite(alice, ev.ID)
	require.NoError(t, err)
	favs, err := cmds.OnFavoritesRequest(alice)
	require.NoError(t, err)
	assert.Len(t, favs, 1)

	bobList, err := cmds.OnListRequest(bob)
	require.NoError(t, err)
	assert.Empty(t, bobList)

	date := "2024-05-02"
	updated, err := cmds.OnUpdate(alice, ev.ID, EventPatch{Date: &date})
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", updated.Date)

	view, err := cmds.OnViewRequest(alice)
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, updated, view[0])

	report, err := cmds.OnReconcileRequest(alice)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)

	require.NoError(t, cmds.OnDelete(alice, ev.ID))
	list, err := cmds.OnListRequest(alice)
	require.NoError(t, err)
	assert.Empty(t, list)
}
