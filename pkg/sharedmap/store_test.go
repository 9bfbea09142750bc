package sharedmap_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jvs-project/coordkit/pkg/errclass"
	"github.com/jvs-project/coordkit/pkg/filelock"
	"github.com/jvs-project/coordkit/pkg/logging"
	"github.com/jvs-project/coordkit/pkg/metrics"
	"github.com/jvs-project/coordkit/pkg/model"
	"github.com/jvs-project/coordkit/pkg/sharedmap"
)

// newStore returns a store over root; stores built on the same root behave
// like separate processes sharing a state directory.
func newStore(t *testing.T, root string, opts ...sharedmap.Option) *sharedmap.Store {
	t.Helper()
	locks := filelock.NewManager(filepath.Join(root, "locks"), model.LockPolicy{
		DefaultTTL:   5 * time.Second,
		MaxWait:      10 * time.Second,
		PollInterval: 2 * time.Millisecond,
	}, filelock.WithLogger(logging.Discard()))
	opts = append([]sharedmap.Option{sharedmap.WithLogger(logging.Discard())}, opts...)
	return sharedmap.New(filepath.Join(root, "maps"), locks, opts...)
}

func TestStore_SetGet(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()

	var missing string
	ok, err := s.Get("plans", "run-1", &missing)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "plans", "run-1", "plan-42"))
	var got string
	ok, err = s.Get("plans", "run-1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "plan-42", got)
}

func TestStore_FileIsCanonicalJSON(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "flags", "b", 2))
	require.NoError(t, s.Set(ctx, "flags", "a", map[string]any{"z": true, "y": 1}))

	data, err := os.ReadFile(s.Path("flags"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":1,"z":true},"b":2}`, string(data))
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "m", "a", 1))
	require.NoError(t, s.Set(ctx, "m", "b", 2))
	require.NoError(t, s.Delete(ctx, "m", "a"))
	require.NoError(t, s.Delete(ctx, "m", "never-there"))

	keys, err := s.Keys("m")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestStore_KeysSorted(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Set(ctx, "m", k, true))
	}

	keys, err := s.Keys("m")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	keys, err = s.Keys("empty")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_ReadsAreFresh(t *testing.T) {
	root := t.TempDir()
	writer := newStore(t, root)
	reader := newStore(t, root)

	require.NoError(t, writer.Set(context.Background(), "m", "k", "v1"))
	var v string
	_, err := reader.Get("m", "k", &v)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, writer.Set(context.Background(), "m", "k", "v2"))
	_, err = reader.Get("m", "k", &v)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestStore_CorruptFileReadsAsEmpty(t *testing.T) {
	reg := metrics.NewRegistry()
	s := newStore(t, t.TempDir(), sharedmap.WithMetrics(reg))
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(s.Dir(), 0755))
	require.NoError(t, os.WriteFile(s.Path("m"), []byte(`{"a": 1, "b"`), 0644))

	keys, err := s.Keys("m")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Set(ctx, "m", "c", 3))
	keys, err = s.Keys("m")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, keys)

	var buf bytes.Buffer
	require.NoError(t, reg.WriteText(&buf))
	assert.Contains(t, buf.String(), "coordkit_sharedmap_corrupt_reads_total 2")
	assert.Contains(t, buf.String(), `coordkit_sharedmap_writes_total{op="set"} 1`)
}

func TestStore_NonObjectFileReadsAsEmpty(t *testing.T) {
	s := newStore(t, t.TempDir())
	require.NoError(t, os.MkdirAll(s.Dir(), 0755))
	require.NoError(t, os.WriteFile(s.Path("m"), []byte(`[1,2,3]`), 0644))

	keys, err := s.Keys("m")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_ConcurrentSetsLoseNothing(t *testing.T) {
	root := t.TempDir()
	stores := []*sharedmap.Store{newStore(t, root), newStore(t, root), newStore(t, root)}

	const n = 24
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		s := stores[i%len(stores)]
		g.Go(func() error {
			return s.Set(context.Background(), "m", fmt.Sprintf("key-%02d", i), i)
		})
	}
	require.NoError(t, g.Wait())

	all, err := sharedmap.Open[int](stores[0], "m").All()
	require.NoError(t, err)
	require.Len(t, all, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, all[fmt.Sprintf("key-%02d", i)])
	}
}

func TestStore_GetOrCreateRunsOnce(t *testing.T) {
	root := t.TempDir()
	a := newStore(t, root)
	b := newStore(t, root)

	var calls atomic.Int32
	create := func(ctx context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "plan-7", nil
	}

	var gotA, gotB string
	var createdA, createdB bool
	var g errgroup.Group
	g.Go(func() (err error) {
		createdA, err = a.GetOrCreate(context.Background(), "plans", "run", &gotA, create)
		return err
	})
	g.Go(func() (err error) {
		createdB, err = b.GetOrCreate(context.Background(), "plans", "run", &gotB, create)
		return err
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), calls.Load())
	assert.NotEqual(t, createdA, createdB, "exactly one caller creates")
	assert.Equal(t, "plan-7", gotA)
	assert.Equal(t, "plan-7", gotB)
}

func TestStore_GetOrCreateFailureWritesNothing(t *testing.T) {
	s := newStore(t, t.TempDir())
	errRemote := errors.New("remote down")

	var out string
	created, err := s.GetOrCreate(context.Background(), "plans", "run", &out, func(ctx context.Context) (any, error) {
		return nil, errRemote
	})
	require.ErrorIs(t, err, errRemote)
	assert.False(t, created)
	assert.NoFileExists(t, s.Path("plans"))

	created, err = s.GetOrCreate(context.Background(), "plans", "run", &out, func(ctx context.Context) (any, error) {
		return "second-try", nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "second-try", out)
}

func TestStore_Update(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "m", "n", 1))

	require.NoError(t, s.Update(ctx, "m", func(e sharedmap.Entries) error {
		var n int
		if _, err := e.Decode("n", &n); err != nil {
			return err
		}
		return e.Put("n", n+1)
	}))

	var n int
	_, err := s.Get("m", "n", &n)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	errStop := errors.New("stop")
	err = s.Update(ctx, "m", func(e sharedmap.Entries) error {
		e.Remove("n")
		return errStop
	})
	require.ErrorIs(t, err, errStop)
	ok, _ := s.Get("m", "n", nil)
	assert.True(t, ok, "failed update must not be written")
}

func TestStore_Drop(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "m", "k", 1))

	require.NoError(t, s.Drop(ctx, "m"))
	assert.NoFileExists(t, s.Path("m"))
	require.NoError(t, s.Drop(ctx, "m"))
}

func TestStore_EmptyName(t *testing.T) {
	s := newStore(t, t.TempDir())
	err := s.Set(context.Background(), "", "k", 1)
	assert.ErrorIs(t, err, errclass.ErrNameInvalid)
	_, err = s.Keys("")
	assert.ErrorIs(t, err, errclass.ErrNameInvalid)
}

func TestStore_LockTimeoutSurfaces(t *testing.T) {
	root := t.TempDir()
	locks := filelock.NewManager(filepath.Join(root, "locks"), model.DefaultLockPolicy(), filelock.WithLogger(logging.Discard()))
	s := sharedmap.New(filepath.Join(root, "maps"), locks,
		sharedmap.WithLogger(logging.Discard()),
		sharedmap.WithLockOptions(filelock.AcquireOptions{MaxWait: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond}))

	tok, err := locks.Acquire(context.Background(), sharedmap.LockKey("m"), filelock.AcquireOptions{})
	require.NoError(t, err)
	defer locks.Release(tok)

	err = s.Set(context.Background(), "m", "k", 1)
	assert.ErrorIs(t, err, errclass.ErrLockTimeout)
}

func TestMap_Typed(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()
	type plan struct {
		ID    string `json:"id"`
		Tests int    `json:"tests"`
	}
	m := sharedmap.Open[plan](s, "plans")
	assert.Equal(t, "plans", m.Name())

	require.NoError(t, m.Set(ctx, "run-1", plan{ID: "p1", Tests: 3}))
	got, ok, err := m.Get("run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, plan{ID: "p1", Tests: 3}, got)

	v, created, err := m.GetOrCreate(ctx, "run-1", func(ctx context.Context) (plan, error) {
		t.Fatal("create must not run for an existing key")
		return plan{}, nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "p1", v.ID)

	require.NoError(t, m.Delete(ctx, "run-1"))
	keys, err := m.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIsMapFile(t *testing.T) {
	assert.True(t, sharedmap.IsMapFile("plans.json"))
	assert.False(t, sharedmap.IsMapFile("plans.lock"))
	assert.False(t, sharedmap.IsMapFile(".coordkit-tmp-123.json"))
}

func TestStore_Quarantine(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "good", "k", 1))
	require.NoError(t, os.WriteFile(s.Path("bad"), []byte("{trunc"), 0644))

	dest, err := s.Quarantine(ctx, filepath.Base(s.Path("bad")), ".corrupt-1")
	require.NoError(t, err)
	assert.Equal(t, s.Path("bad")+".corrupt-1", dest)
	assert.NoFileExists(t, s.Path("bad"))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "{trunc", string(data), "quarantine keeps the bytes")

	dest, err = s.Quarantine(ctx, filepath.Base(s.Path("good")), ".corrupt-1")
	require.NoError(t, err)
	assert.Empty(t, dest, "valid maps stay in place")
	assert.FileExists(t, s.Path("good"))

	dest, err = s.Quarantine(ctx, "missing.json", ".corrupt-1")
	require.NoError(t, err)
	assert.Empty(t, dest)
}

func TestStore_QuarantineWaitsForWriter(t *testing.T) {
	root := t.TempDir()
	s := newStore(t, root)
	other := newStore(t, root)
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(s.Dir(), 0755))
	require.NoError(t, os.WriteFile(s.Path("m"), []byte("{trunc"), 0644))

	started := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		return other.Update(ctx, "m", func(e sharedmap.Entries) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return e.Put("k", "v")
		})
	})
	<-started

	dest, err := s.Quarantine(ctx, filepath.Base(s.Path("m")), ".corrupt-1")
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	assert.Empty(t, dest, "the writer repaired the map before the lock was free")

	var v string
	ok, err := s.Get("m", "k", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestFileLockKey(t *testing.T) {
	s := newStore(t, t.TempDir())
	for _, name := range []string{"plans", "team/a b", ".hidden"} {
		assert.Equal(t, sharedmap.LockKey(name), sharedmap.FileLockKey(filepath.Base(s.Path(name))), name)
	}
	assert.Equal(t, "map:plans", sharedmap.LockKey("plans"))
}
