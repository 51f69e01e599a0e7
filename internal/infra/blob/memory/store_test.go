package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenhouse/internal/blob/core"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("fail") }

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()
	assert.Equal(t, core.DriverMemory, store.Driver())

	obj, err := store.Put(ctx, "reports/r1/analytics.json", strings.NewReader(`{"ok":true}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"export": "r1"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 11, obj.Size)
	assert.NotEmpty(t, obj.ETag)

	_, err = store.Put(ctx, "reports/r1/analytics.json", strings.NewReader("x"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := store.Get(ctx, "reports/r1/analytics.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, "r1", got.Metadata["export"])

	got.Metadata["export"] = "mutated"
	again, _, _ := store.Get(ctx, "reports/r1/analytics.json")
	assert.Equal(t, "r1", again.Metadata["export"])

	_, err = store.Put(ctx, "reports/r2/analytics.csv", strings.NewReader("a,b"), core.PutOptions{})
	require.NoError(t, err)
	_, err = store.Put(ctx, "other/file", strings.NewReader("z"), core.PutOptions{})
	require.NoError(t, err)

	list, err := store.List(ctx, "reports/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "reports/r1/analytics.json", list[0].Key)

	existed, err := store.Delete(ctx, "reports/r1/analytics.json")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, _ = store.Delete(ctx, "reports/r1/analytics.json")
	assert.False(t, existed)

	_, _, err = store.Get(ctx, "reports/r1/analytics.json")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = store.URL(ctx, "reports/r2/analytics.csv", 0)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestStoreRejectsBadInput(t *testing.T) {
	store := New()
	_, err := store.Put(context.Background(), "../escape", strings.NewReader("x"), core.PutOptions{})
	assert.Error(t, err)
	_, err = store.Put(context.Background(), "ok", failingReader{}, core.PutOptions{})
	assert.Error(t, err)
}
