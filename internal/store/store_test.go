package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pdr/internal/room"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "layouts.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testLayout() room.Layout {
	return room.Layout{
		Corners: []room.Point{{X: 0, Y: 0}, {X: 21.5, Y: 0}, {X: 21.5, Y: 20.25}},
		WiFiReferences: []room.WiFiReference{
			{SSID: "lab", Strength: -60, EstimatedPosition: room.Point{X: 1.5, Y: 2}},
		},
		CreatedAt: time.UnixMilli(1700000000123),
	}
}

func TestStore_SaveGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry, err := s.Save(ctx, "session-1", "kitchen", testLayout())
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, 3, entry.CornerCount)
	assert.Equal(t, 1, entry.WiFiCount)

	got, gotEntry, err := s.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, gotEntry.ID)
	assert.Equal(t, "session-1", gotEntry.SessionID)
	assert.Equal(t, "kitchen", gotEntry.Name)
	assert.True(t, gotEntry.CreatedAt.Equal(time.UnixMilli(1700000000123)))

	want := testLayout()
	require.Len(t, got.Corners, len(want.Corners))
	for i := range want.Corners {
		assert.True(t, want.Corners[i].ApproxEqual(got.Corners[i], 1e-6))
	}
	require.Len(t, got.WiFiReferences, 1)
	assert.Equal(t, "lab", got.WiFiReferences[0].SSID)
	assert.True(t, got.CreatedAt.Equal(want.CreatedAt))
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_List(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		e, err := s.Save(ctx, "", "", testLayout())
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// newest first
	assert.Equal(t, ids[2], entries[0].ID)
	assert.Equal(t, ids[0], entries[2].ID)

	entries, err = s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_ListEmpty(t *testing.T) {
	s := openTestStore(t)

	entries, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.Save(ctx, "", "", testLayout())
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, e.ID))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.True(t, errors.Is(s.Delete(ctx, e.ID), ErrNotFound))
}

func TestStore_EmptyLayout(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.Save(ctx, "", "", room.Layout{CreatedAt: time.UnixMilli(0)})
	require.NoError(t, err)

	got, _, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Corners)
	assert.Empty(t, got.WiFiReferences)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layouts.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	e, err := s.Save(ctx, "", "", testLayout())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Get(ctx, e.ID)
	assert.NoError(t, err)
	assert.NoError(t, s.Ping(ctx))
}
