package memlog

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memorykeep/memorykeep/internal/model"
	"github.com/memorykeep/memorykeep/internal/store"
)

func newTestLog(t *testing.T, opts ...Option) (*Log, *store.SQLiteStore) {
	t.Helper()
	s, err := store.OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, zap.NewNop(), opts...), s
}

type call struct {
	op    string
	entry model.MemoryEntry
}

type chanMirror chan call

func (m chanMirror) Append(_ context.Context, e model.MemoryEntry)    { m <- call{"append", e} }
func (m chanMirror) Overwrite(_ context.Context, e model.MemoryEntry) { m <- call{"overwrite", e} }

func contents(t *testing.T, entries []model.MemoryEntry) []string {
	t.Helper()
	out := make([]string, len(entries))
	for i, e := range entries {
		s, ok := e.ContentString()
		require.True(t, ok, "entry %s content is not a string", e.ID)
		out[i] = s
	}
	return out
}

func TestAppendKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	_, err := l.Append(ctx, "b1", model.MemoryExperience, "first")
	require.NoError(t, err)
	_, err = l.Append(ctx, "b1", model.MemoryExperience, "second")
	require.NoError(t, err)

	got, err := l.ListByType(ctx, "b1", model.MemoryExperience)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, contents(t, got))
}

func TestAppendSameMillisecond(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLog(t, WithClock(func() time.Time { return fixed }))

	var ids []string
	for i := 0; i < 5; i++ {
		e, err := l.Append(ctx, "b1", model.MemoryCore, map[string]any{"n": i})
		require.NoError(t, err)
		assert.Equal(t, fixed, e.Timestamp)
		ids = append(ids, e.ID)
	}

	got, err := l.ListByType(ctx, "b1", model.MemoryCore)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, ids[i], e.ID)
	}
}

func TestAppendEntryShape(t *testing.T) {
	l, _ := newTestLog(t)

	e, err := l.Append(context.Background(), "b1", model.MemoryNotebook, map[string]any{"note": "x"})
	require.NoError(t, err)

	assert.Regexp(t, `^b1_notebook_[0-9A-Z]{26}$`, e.ID)
	assert.Equal(t, "b1", e.BotID)
	assert.Equal(t, model.MemoryNotebook, e.Type)
	obj, ok := e.ContentObject()
	require.True(t, ok)
	assert.Equal(t, "x", obj["note"])
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	_, err := l.Append(ctx, "b1", model.MemoryType("diary"), "x")
	assert.True(t, errors.Is(err, ErrInvalidType))

	_, err = l.Append(ctx, "", model.MemoryCore, "x")
	assert.True(t, errors.Is(err, ErrInvalidBot))

	_, err = l.Append(ctx, "b1", model.MemoryCore, nil)
	assert.Error(t, err)

	_, err = l.ListByType(ctx, "b1", model.MemoryType("diary"))
	assert.True(t, errors.Is(err, ErrInvalidType))
}

func TestOverwriteLeavesOneEntry(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	for _, c := range []string{"a", "b", "c"} {
		_, err := l.Append(ctx, "b1", model.MemoryCore, c)
		require.NoError(t, err)
	}
	_, err := l.Append(ctx, "b1", model.MemoryJob, "untouched")
	require.NoError(t, err)

	_, err = l.Overwrite(ctx, "b1", model.MemoryCore, "X")
	require.NoError(t, err)

	got, err := l.ListByType(ctx, "b1", model.MemoryCore)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, contents(t, got))

	jobs, err := l.ListByType(ctx, "b1", model.MemoryJob)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestOverwriteEmpty(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	_, err := l.Overwrite(ctx, "b1", model.MemoryCore, json.RawMessage(`{"profile":"new"}`))
	require.NoError(t, err)

	got, err := l.ListByType(ctx, "b1", model.MemoryCore)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"profile":"new"}`, string(got[0].Content))
}

func TestOverwriteRejectsBadContentBeforeDeleting(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	_, err := l.Append(ctx, "b1", model.MemoryCore, "keep")
	require.NoError(t, err)

	_, err = l.Overwrite(ctx, "b1", model.MemoryCore, nil)
	require.Error(t, err)

	got, err := l.ListByType(ctx, "b1", model.MemoryCore)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, contents(t, got))
}

func TestListAllTypes(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	_, err := l.Append(ctx, "b1", model.MemoryCore, "c")
	require.NoError(t, err)
	_, err = l.Append(ctx, "b1", model.MemoryExperience, "e")
	require.NoError(t, err)
	_, err = l.Append(ctx, "b2", model.MemoryCore, "other bot")
	require.NoError(t, err)

	all, err := l.ListAllTypes(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"c"}, contents(t, all[model.MemoryCore]))
	assert.Equal(t, []string{"e"}, contents(t, all[model.MemoryExperience]))
	assert.Empty(t, all[model.MemoryNotebook])
	assert.NotNil(t, all[model.MemoryNotebook])
	assert.Empty(t, all[model.MemoryJob])
}

func TestDeleteAllForBot(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	for _, typ := range model.AllMemoryTypes {
		_, err := l.Append(ctx, "b1", typ, "x")
		require.NoError(t, err)
	}
	_, err := l.Append(ctx, "b2", model.MemoryCore, "stays")
	require.NoError(t, err)

	n, err := l.DeleteAllForBot(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	all, err := l.ListAllTypes(ctx, "b1")
	require.NoError(t, err)
	for _, typ := range model.AllMemoryTypes {
		assert.Empty(t, all[typ], typ)
	}

	other, err := l.ListByType(ctx, "b2", model.MemoryCore)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestInsertKeepsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := l.Insert(ctx, model.MemoryEntry{
		ID: "legacy-1", BotID: "b1", Type: model.MemoryCore,
		Content: json.RawMessage(`"old"`), Timestamp: at,
	})
	require.NoError(t, err)

	got, err := l.ListByType(ctx, "b1", model.MemoryCore)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "legacy-1", got[0].ID)
	assert.True(t, at.Equal(got[0].Timestamp))

	_, err = l.Insert(ctx, model.MemoryEntry{BotID: "b1", Type: model.MemoryCore, Content: json.RawMessage(`{bad`)})
	assert.Error(t, err)
}

func TestMirrorReceivesWrites(t *testing.T) {
	ctx := context.Background()
	m := make(chanMirror, 2)
	l, _ := newTestLog(t, WithMirror(m))

	appended, err := l.Append(ctx, "b1", model.MemoryExperience, "hello")
	require.NoError(t, err)
	overwritten, err := l.Overwrite(ctx, "b1", model.MemoryCore, "profile")
	require.NoError(t, err)

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case c := <-m:
			seen[c.op] = c.entry.ID
		case <-time.After(2 * time.Second):
			t.Fatal("mirror was not called")
		}
	}
	assert.Equal(t, appended.ID, seen["append"])
	assert.Equal(t, overwritten.ID, seen["overwrite"])
}

func TestClosedStoreErrorPropagates(t *testing.T) {
	l, s := newTestLog(t)
	require.NoError(t, s.Close())

	_, err := l.Append(context.Background(), "b1", model.MemoryCore, "x")
	assert.True(t, errors.Is(err, store.ErrClosed))

	_, err = l.ListAllTypes(context.Background(), "b1")
	assert.True(t, errors.Is(err, store.ErrClosed))
}

type slowMirror struct{ done chan struct{} }

func (m *slowMirror) Append(context.Context, model.MemoryEntry) {
	time.Sleep(20 * time.Millisecond)
	close(m.done)
}
func (m *slowMirror) Overwrite(context.Context, model.MemoryEntry) {}

func TestWaitDrainsMirror(t *testing.T) {
	m := &slowMirror{done: make(chan struct{})}
	l, _ := newTestLog(t, WithMirror(m))

	_, err := l.Append(context.Background(), "b1", model.MemoryCore, "x")
	require.NoError(t, err)
	l.Wait()

	select {
	case <-m.done:
	default:
		t.Fatal("Wait returned before the mirror call finished")
	}
}
