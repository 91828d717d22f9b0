package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "slotwatch/pkg/logx"
)

func readLines[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v T
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		out = append(out, v)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		assert.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}

func TestFileStoreAppends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "audit", "slotwatch.db")}, logx.Nop())
	require.NoError(t, err)

	at := time.Date(2021, 5, 10, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, st.AppendDispatch(ctx, DispatchEntry{At: at, Key: "pincode:110077", ChatID: 1, OK: true, Bytes: 42}))
	require.NoError(t, st.AppendDispatch(ctx, DispatchEntry{At: at, Key: "pincode:110077", ChatID: 2, Error: "blocked"}))
	require.NoError(t, st.AppendPass(ctx, PassEntry{At: at, ID: "p1", Keys: 2, Notified: 1}))
	require.NoError(t, st.Close())

	ds := readLines[DispatchEntry](t, filepath.Join(dir, "audit", "slotwatch.dispatch.jsonl"))
	require.Len(t, ds, 2)
	assert.True(t, ds[0].OK)
	assert.Equal(t, int64(2), ds[1].ChatID)
	assert.Equal(t, "blocked", ds[1].Error)
	assert.True(t, at.Equal(ds[0].At))

	ps := readLines[PassEntry](t, filepath.Join(dir, "audit", "slotwatch.passes.jsonl"))
	require.Len(t, ps, 1)
	assert.Equal(t, "p1", ps[0].ID)

	assert.ErrorIs(t, st.AppendPass(ctx, PassEntry{ID: "late"}), ErrDisabled)
}

func TestFileStoreReopenAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store")
	for i := 0; i < 2; i++ {
		st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
		require.NoError(t, err)
		require.NoError(t, st.AppendDispatch(context.Background(), DispatchEntry{Key: "k", ChatID: int64(i)}))
		require.NoError(t, st.Close())
	}
	ds := readLines[DispatchEntry](t, path+".dispatch.jsonl")
	assert.Len(t, ds, 2)
}
