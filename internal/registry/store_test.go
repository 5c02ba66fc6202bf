package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwit/spec2call/internal/model"
)

func newRegistration(id, owner string) *model.Registration {
	return &model.Registration{
		ID:      id,
		OwnerID: owner,
		Name:    id,
		BaseURL: "https://api.example.com",
		Format:  model.FormatOpenAPI3,
		Auth:    model.NewAuthConfig(model.NoAuth{}),
		Enabled: true,
		Endpoints: []model.Endpoint{
			{OperationID: "ping", Method: "GET", Path: "/ping", Enabled: true},
		},
	}
}

func TestFileStoreSaveAndGet(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	reg := newRegistration("pets-1a2b3c4d", "acme")
	require.NoError(t, store.Save(ctx, reg, ""))
	require.NotEmpty(t, reg.ConcurrencyToken)

	got, err := store.Get(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ConcurrencyToken, got.ConcurrencyToken)
	assert.Equal(t, "acme", got.OwnerID)
	require.Len(t, got.Endpoints, 1)
	assert.Equal(t, "ping", got.Endpoints[0].OperationID)

	_, err = store.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreOptimisticConcurrency(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	reg := newRegistration("pets-1a2b3c4d", "acme")
	require.NoError(t, store.Save(ctx, reg, ""))
	first := reg.ConcurrencyToken

	// второй писатель прочитал ту же версию
	stale, err := store.Get(ctx, reg.ID)
	require.NoError(t, err)

	reg.Enabled = false
	require.NoError(t, store.Save(ctx, reg, first))
	assert.NotEqual(t, first, reg.ConcurrencyToken, "token rotates on every write")

	stale.Name = "lost update"
	err = store.Save(ctx, stale, stale.ConcurrencyToken)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, first, stale.ConcurrencyToken, "failed save keeps the caller's token")

	err = store.Save(ctx, newRegistration("pets-1a2b3c4d", "acme"), "")
	assert.ErrorIs(t, err, ErrConflict, "create over an existing id")

	err = store.Save(ctx, newRegistration("ghost", "acme"), "some-token")
	assert.ErrorIs(t, err, ErrNotFound, "update of a missing registration")

	got, err := store.Get(ctx, reg.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, reg.ID, got.Name)
}

func TestFileStoreListAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	for _, r := range []*model.Registration{
		newRegistration("b-api", "acme"),
		newRegistration("a-api", "acme"),
		newRegistration("c-api", "globex"),
	} {
		require.NoError(t, store.Save(ctx, r, ""))
	}
	// посторонние файлы в каталоге игнорируются
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	acme, err := store.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, acme, 2)
	assert.Equal(t, "a-api", acme[0].ID)
	assert.Equal(t, "b-api", acme[1].ID)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.Delete(ctx, "a-api"))
	assert.ErrorIs(t, store.Delete(ctx, "a-api"), ErrNotFound)
	acme, err = store.List(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, acme, 1)
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"../escape", "a/b", "", ".hidden", "with space"} {
		_, err := store.Get(ctx, id)
		assert.Error(t, err, id)
		assert.NotErrorIs(t, err, ErrNotFound, id)
		assert.Error(t, store.Save(ctx, newRegistration(id, "acme"), ""), id)
	}
}

func TestFileStoreTenantSalt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Tenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", first.ID)
	assert.Len(t, first.Salt, 16)

	again, err := store.Tenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, first.Salt, again.Salt, "salt is stable for a tenant")

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	persisted, err := reopened.Tenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, first.Salt, persisted.Salt)

	other, err := store.Tenant(ctx, "globex")
	require.NoError(t, err)
	assert.NotEqual(t, first.Salt, other.Salt)

	_, err = store.Tenant(ctx, "../acme")
	assert.Error(t, err)
}
