package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	uri, err := store.PutObject(ctx, "b.txt", "text/plain", strings.NewReader("one"))
	require.NoError(t, err)
	require.Equal(t, "memory://b.txt", uri)

	_, err = store.PutObject(ctx, "a.txt", "text/plain", strings.NewReader("two"))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "b.txt", "text/plain", strings.NewReader("three"))
	require.NoError(t, err)

	got, err := store.GetObject(ctx, "b.txt")
	require.NoError(t, err)
	require.Equal(t, "three", string(got))
	require.Equal(t, []string{"a.txt", "b.txt"}, store.Keys())
}

func TestBlobStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	_, err := store.PutObject(ctx, "x", "", bytes.NewReader([]byte("content")))
	require.NoError(t, err)

	got, err := store.GetObject(ctx, "x")
	require.NoError(t, err)
	got[0] = 'C'

	again, err := store.GetObject(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))
}

func TestBlobStoreErrors(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.ErrorIs(t, err, sounding.ErrIO)
	_, err = store.GetObject(context.Background(), "missing")
	require.ErrorIs(t, err, sounding.ErrIO)
}
