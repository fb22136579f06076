//go:build !windows

package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/apprun/internal/detector"
	"github.com/loykin/apprun/internal/process"
	"github.com/loykin/apprun/internal/runstate"
)

func TestLaunch_RealProcess(t *testing.T) {
	dir := t.TempDir()
	store := runstate.NewFileStore(dir)
	cmd := `sh -c 'sleep 0.2; echo "http://127.0.0.1:8765" > "$APPRUN_ENDPOINT_FILE"; exec sleep 30'`
	cfg := Config{
		Spec: process.Spec{
			Command: cmd,
			Env:     append(os.Environ(), "APPRUN_ENDPOINT_FILE="+store.EndpointPath()),
			LogPath: store.LogPath(),
		},
		ReadyInterval: 50 * time.Millisecond,
		ReadyAttempts: 60,
		RuntimeDir:    dir,
	}
	v := &recordingViewer{}
	l := New(store, &process.Spawner{}, detector.Probe{}, v, cfg)

	res, err := l.Launch(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = process.Signaler{}.Kill(res.PID) })

	assert.Equal(t, StateLaunched, res.State)
	assert.Equal(t, "http://127.0.0.1:8765", res.Endpoint)
	assert.True(t, detector.Probe{}.Alive(runstate.Handle{PID: res.PID}))

	b, err := os.ReadFile(filepath.Join(dir, runstate.PIDFileName))
	require.NoError(t, err)
	h, ok := runstate.ParseHandle(b)
	require.True(t, ok)
	assert.Equal(t, res.PID, h.PID)

	again, err := New(store, &process.Spawner{}, detector.Probe{}, v, cfg).Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReusing, again.State)
	assert.Equal(t, res.PID, again.PID)
}

func TestLaunch_RealProcessNeverReady(t *testing.T) {
	dir := t.TempDir()
	store := runstate.NewFileStore(dir)
	cfg := Config{
		Spec:          process.Spec{Command: `sh -c 'echo booting; exec sleep 30'`, LogPath: store.LogPath()},
		ReadyInterval: 20 * time.Millisecond,
		ReadyAttempts: 5,
	}
	res, err := New(store, &process.Spawner{}, detector.Probe{}, nil, cfg).Launch(context.Background())
	require.ErrorIs(t, err, ErrReadyTimeout)
	t.Cleanup(func() { _ = process.Signaler{}.Kill(res.PID) })

	assert.True(t, detector.Probe{}.Alive(runstate.Handle{PID: res.PID}), "timed out server must be left running")
	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(store.LogPath())
		return string(b) == "booting\n"
	}, 2*time.Second, 20*time.Millisecond)
}
