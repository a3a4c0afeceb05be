package mirror_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/storage/mirror"
)

type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func newStore() (*mirror.Store, mirror.Backend, *event.Recorder) {
	backend := mirror.NewMemoryBackend()
	rec := new(event.Recorder)
	return mirror.NewStore(backend, rec), backend, rec
}

func TestAliases(t *testing.T) {
	tests := []struct {
		key  string
		want []string
	}{
		{"classes", []string{"classes", "studylink_classes"}},
		{"studylink_classes", []string{"classes", "studylink_classes"}},
		{"students", []string{"students", "studylink_students", "studylink_all_students"}},
		{"studylink_all_teachers", []string{"teachers", "studylink_teachers", "studylink_all_teachers"}},
		{"users", []string{"users", "studylink_users"}},
		{"courses", []string{"courses"}},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			assert.Equal(t, tc.want, mirror.Aliases(tc.key))
		})
	}
}

func TestStore_WriteAllAliases(t *testing.T) {
	ctx := context.Background()
	store, backend, rec := newStore()

	require.NoError(t, store.Write(ctx, "studylink_students", []item{{1, "Kim"}}))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"students", "studylink_all_students", "studylink_students"}, keys)
	for _, k := range keys {
		raw, ok, err := backend.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `[{"id":1,"name":"Kim"}]`, string(raw))
	}

	require.Len(t, rec.Events, 1)
	assert.Equal(t, event.Mirror, rec.Events[0].Entity)
	assert.Equal(t, "students", rec.Events[0].Key)
}

func TestStore_Read(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newStore()

	t.Run("absent key", func(t *testing.T) {
		var items []item
		require.NoError(t, store.Read(ctx, "classes", &items))
		assert.Nil(t, items)
	})

	t.Run("through alias", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, "classes", []item{{2, "Math A"}}))
		var items []item
		require.NoError(t, store.Read(ctx, "studylink_classes", &items))
		assert.Equal(t, []item{{2, "Math A"}}, items)
	})

	t.Run("legacy data under alias only", func(t *testing.T) {
		require.NoError(t, backend.Put(ctx, map[string][]byte{"studylink_users": []byte(`[{"id":3,"name":"Lee"}]`)}))
		var items []item
		require.NoError(t, store.Read(ctx, "users", &items))
		assert.Equal(t, []item{{3, "Lee"}}, items)
	})

	t.Run("malformed blob", func(t *testing.T) {
		require.NoError(t, backend.Put(ctx, map[string][]byte{"courses": []byte(`{not json`)}))
		var items []item
		err := store.Read(ctx, "courses", &items)
		var decodeErr *mirror.DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, "courses", decodeErr.Key)
	})
}

func TestStore_RawAndDelete(t *testing.T) {
	ctx := context.Background()
	store, _, rec := newStore()

	_, err := store.Raw(ctx, "teachers")
	assert.True(t, core.IsNotFound(err))

	require.NoError(t, store.Write(ctx, "teachers", []item{{4, "Park"}}))
	raw, err := store.Raw(ctx, "studylink_teachers")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":4,"name":"Park"}]`, string(raw))

	require.NoError(t, store.Delete(ctx, "teachers"))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, event.Deleted, rec.Events[len(rec.Events)-1].Kind)
}
