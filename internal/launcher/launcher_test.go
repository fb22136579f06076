package launcher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/apprun/internal/process"
	"github.com/loykin/apprun/internal/runstate"
)

type fakeSpawner struct {
	mu      sync.Mutex
	calls   int
	pid     int
	err     error
	onSpawn func()
}

func (f *fakeSpawner) Spawn(process.Spec) (runstate.Handle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return runstate.Handle{}, f.err
	}
	if f.onSpawn != nil {
		f.onSpawn()
	}
	return runstate.Handle{PID: f.pid}, nil
}

func (f *fakeSpawner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeProber struct {
	mu    sync.Mutex
	alive map[int]bool
}

func newFakeProber(pids ...int) *fakeProber {
	p := &fakeProber{alive: map[int]bool{}}
	for _, pid := range pids {
		p.alive[pid] = true
	}
	return p
}

func (p *fakeProber) Alive(h runstate.Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[h.PID]
}

type recordingViewer struct {
	mu     sync.Mutex
	opened []string
	err    error
}

func (v *recordingViewer) Open(url string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opened = append(v.opened, url)
	return v.err
}

func (v *recordingViewer) Opened() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.opened...)
}

func fastConfig() Config {
	return Config{
		Spec:          process.Spec{Command: "server", LogPath: "/tmp/runtime/server.log"},
		ReadyInterval: 5 * time.Millisecond,
		ReadyAttempts: 20,
	}
}

func TestLaunch_SpawnsAndOpensEndpoint(t *testing.T) {
	store := runstate.NewMemoryStore()
	sp := &fakeSpawner{pid: 4242}
	sp.onSpawn = func() {
		go func() {
			time.Sleep(15 * time.Millisecond)
			_ = store.WriteEndpoint(runstate.Endpoint{Address: "http://127.0.0.1:8765"})
		}()
	}
	v := &recordingViewer{}
	var out bytes.Buffer
	l := New(store, sp, newFakeProber(4242), v, fastConfig())
	l.SetOutput(&out)

	res, err := l.Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateLaunched, res.State)
	assert.Equal(t, 4242, res.PID)
	assert.True(t, res.Spawned)
	assert.Equal(t, "http://127.0.0.1:8765", res.Endpoint)
	assert.Equal(t, []string{"http://127.0.0.1:8765"}, v.Opened())
	assert.Equal(t, "started (pid 4242): http://127.0.0.1:8765\n", out.String())

	h, ok, err := store.ReadHandle()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4242, h.PID)
}

func TestLaunch_ReusesLiveInstance(t *testing.T) {
	store := runstate.NewMemoryStore()
	require.NoError(t, store.WriteHandle(runstate.Handle{PID: 4242}))
	require.NoError(t, store.WriteEndpoint(runstate.Endpoint{Address: "http://127.0.0.1:8765"}))
	sp := &fakeSpawner{pid: 9999}
	v := &recordingViewer{}
	var out bytes.Buffer
	l := New(store, sp, newFakeProber(4242), v, fastConfig())
	l.SetOutput(&out)

	res, err := l.Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReusing, res.State)
	assert.False(t, res.Spawned)
	assert.Equal(t, 0, sp.Calls(), "must not spawn when a live instance exists")
	assert.Equal(t, []string{"http://127.0.0.1:8765"}, v.Opened())
	assert.Equal(t, "already running (pid 4242): http://127.0.0.1:8765\n", out.String())
}

func TestLaunch_StaleHandleInvalidatesEndpoint(t *testing.T) {
	store := runstate.NewMemoryStore()
	require.NoError(t, store.WriteHandle(runstate.Handle{PID: 111}))
	require.NoError(t, store.WriteEndpoint(runstate.Endpoint{Address: "http://stale"}))
	sp := &fakeSpawner{pid: 222}
	v := &recordingViewer{}
	cfg := fastConfig()
	cfg.ReadyAttempts = 3
	l := New(store, sp, newFakeProber(), v, cfg)

	res, err := l.Launch(context.Background())
	require.ErrorIs(t, err, ErrReadyTimeout)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 1, sp.Calls())
	assert.Empty(t, v.Opened(), "stale endpoint must never be opened")

	_, ok, err := store.ReadEndpoint()
	require.NoError(t, err)
	assert.False(t, ok, "endpoint must be cleared before spawning")
	h, ok, _ := store.ReadHandle()
	require.True(t, ok)
	assert.Equal(t, 222, h.PID)
}

func TestLaunch_LiveProcessWithoutEndpointRespawns(t *testing.T) {
	store := runstate.NewMemoryStore()
	require.NoError(t, store.WriteHandle(runstate.Handle{PID: 111}))
	sp := &fakeSpawner{pid: 222}
	sp.onSpawn = func() {
		_ = store.WriteEndpoint(runstate.Endpoint{Address: "http://fresh"})
	}
	l := New(store, sp, newFakeProber(111, 222), &recordingViewer{}, fastConfig())

	res, err := l.Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateLaunched, res.State)
	assert.Equal(t, 1, sp.Calls())
	assert.Equal(t, "http://fresh", res.Endpoint)
}

func TestLaunch_ReadinessBound(t *testing.T) {
	store := runstate.NewMemoryStore()
	cfg := fastConfig()
	cfg.ReadyInterval = 10 * time.Millisecond
	cfg.ReadyAttempts = 5
	var out bytes.Buffer
	l := New(store, &fakeSpawner{pid: 7}, newFakeProber(7), &recordingViewer{}, cfg)
	l.SetOutput(&out)

	start := time.Now()
	res, err := l.Launch(context.Background())
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrReadyTimeout)
	assert.Contains(t, err.Error(), cfg.Spec.LogPath)
	assert.Equal(t, StateTimedOut, res.State)
	assert.GreaterOrEqual(t, elapsed, cfg.ReadyBudget())
	assert.Less(t, elapsed, cfg.ReadyBudget()+time.Second)
	assert.Equal(t, "server did not become ready within 50ms; see /tmp/runtime/server.log\n", out.String())

	// the timed out server is not killed and stays recorded
	_, ok, _ := store.ReadHandle()
	assert.True(t, ok)
}

func TestLaunch_ContextCancelAbortsWait(t *testing.T) {
	cfg := fastConfig()
	cfg.ReadyInterval = time.Second
	cfg.ReadyAttempts = 60
	l := New(runstate.NewMemoryStore(), &fakeSpawner{pid: 7}, newFakeProber(), nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := l.Launch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateAwaitingReady, res.State)
}

func TestLaunch_SpawnFailure(t *testing.T) {
	store := runstate.NewMemoryStore()
	l := New(store, &fakeSpawner{err: errors.New("exec: not found")}, newFakeProber(), nil, fastConfig())

	res, err := l.Launch(context.Background())
	require.ErrorIs(t, err, ErrSpawn)
	assert.Equal(t, StateSpawning, res.State)
	assert.False(t, store.HasHandle())
}

func TestLaunch_CorruptHandleTreatedAsAbsent(t *testing.T) {
	for name, raw := range map[string][]byte{"empty": {}, "non-numeric": []byte("garbage\n")} {
		t.Run(name, func(t *testing.T) {
			store := runstate.NewMemoryStore()
			store.SetRawHandle(raw)
			require.NoError(t, store.WriteEndpoint(runstate.Endpoint{Address: "http://stale"}))
			sp := &fakeSpawner{pid: 4242}
			sp.onSpawn = func() {
				_ = store.WriteEndpoint(runstate.Endpoint{Address: "http://fresh"})
			}
			v := &recordingViewer{}

			res, err := New(store, sp, newFakeProber(4242), v, fastConfig()).Launch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StateLaunched, res.State)
			assert.Equal(t, 1, sp.Calls())
			assert.Equal(t, []string{"http://fresh"}, v.Opened())

			h, ok, err := store.ReadHandle()
			require.NoError(t, err)
			require.True(t, ok, "marker must be replaced by the new pid")
			assert.Equal(t, 4242, h.PID)
		})
	}
}

// failingHandleStore refuses to record a handle.
type failingHandleStore struct {
	*runstate.MemoryStore
}

func (failingHandleStore) WriteHandle(runstate.Handle) error { return errors.New("disk full") }

type killingSpawner struct {
	fakeSpawner
	killed []int
}

func (k *killingSpawner) Kill(pid int) error {
	k.killed = append(k.killed, pid)
	return nil
}

func TestLaunch_UnrecordedSpawnIsKilled(t *testing.T) {
	store := failingHandleStore{runstate.NewMemoryStore()}
	sp := &killingSpawner{fakeSpawner: fakeSpawner{pid: 4242}}

	res, err := New(store, sp, newFakeProber(4242), nil, fastConfig()).Launch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pid 4242")
	assert.Equal(t, StateSpawning, res.State)
	assert.Equal(t, []int{4242}, sp.killed)
}

func TestLaunch_ViewerFailureIgnored(t *testing.T) {
	store := runstate.NewMemoryStore()
	require.NoError(t, store.WriteHandle(runstate.Handle{PID: 5}))
	require.NoError(t, store.WriteEndpoint(runstate.Endpoint{Address: "http://x"}))
	v := &recordingViewer{err: errors.New("no display")}
	l := New(store, &fakeSpawner{}, newFakeProber(5), v, fastConfig())

	res, err := l.Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReusing, res.State)
}

func TestLaunch_LockHeld(t *testing.T) {
	cfg := fastConfig()
	cfg.LockPath = t.TempDir() + "/" + runstate.LockFileName
	unlock, err := runstate.Lock(cfg.LockPath)
	require.NoError(t, err)
	defer unlock()

	sp := &fakeSpawner{pid: 1}
	_, err = New(runstate.NewMemoryStore(), sp, newFakeProber(), nil, cfg).Launch(context.Background())
	require.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 0, sp.Calls())
}

// Store empty, spawn 4242, endpoint appears, second launch reuses it.
func TestLaunch_ExampleScenario(t *testing.T) {
	store := runstate.NewMemoryStore()
	sp := &fakeSpawner{pid: 4242}
	sp.onSpawn = func() {
		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = store.WriteEndpoint(runstate.Endpoint{Address: "http://127.0.0.1:8765"})
		}()
	}
	prober := newFakeProber(4242)
	v := &recordingViewer{}

	first, err := New(store, sp, prober, v, fastConfig()).Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateLaunched, first.State)

	second, err := New(store, sp, prober, v, fastConfig()).Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReusing, second.State)
	assert.Equal(t, 4242, second.PID)
	assert.Equal(t, 1, sp.Calls())
	assert.Equal(t, []string{"http://127.0.0.1:8765", "http://127.0.0.1:8765"}, v.Opened())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "checking_existing", StateCheckingExisting.String())
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateReusing.Terminal())
	assert.False(t, StateAwaitingReady.Terminal())
}
