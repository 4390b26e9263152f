package lifecycle

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/telemetry"
)

type fakeCollector struct {
	called bool
	err    error
}

func (f *fakeCollector) Cleanup() error {
	f.called = true
	return f.err
}

func newTestManager(t *testing.T) (*Manager, session.Paths) {
	dir := t.TempDir()
	paths := session.New(dir)
	require.NoError(t, paths.EnsureDir())
	store := telemetry.New([]string{"network", "console"})
	return &Manager{Store: store, Paths: paths}, paths
}

func TestCleanup_RunsOnlyOnce(t *testing.T) {
	m, _ := newTestManager(t)
	collector := &fakeCollector{}
	m.Collectors = []Collector{collector}

	m.Cleanup(Normal)
	m.Cleanup(Normal)

	assert.True(t, collector.called)
}

func TestCleanup_OneFailingCollectorDoesNotStopOthers(t *testing.T) {
	m, _ := newTestManager(t)
	first := &fakeCollector{err: errors.New("boom")}
	second := &fakeCollector{}
	m.Collectors = []Collector{first, second}

	m.Cleanup(Crash)

	assert.True(t, first.called)
	assert.True(t, second.called)
}

func TestCleanup_WritesSessionOutput(t *testing.T) {
	m, paths := newTestManager(t)
	m.Cleanup(Normal)

	var out telemetry.Output
	require.NoError(t, session.ReadJSON(paths.SessionOutput, &out))
	assert.True(t, out.Success)
	assert.Nil(t, out.Partial)
}

func TestCleanup_CrashMarksOutputPartial(t *testing.T) {
	m, paths := newTestManager(t)
	m.Cleanup(Crash)

	var out telemetry.Output
	require.NoError(t, session.ReadJSON(paths.SessionOutput, &out))
	require.NotNil(t, out.Partial)
	assert.True(t, *out.Partial)
}

func TestCleanup_SkipsDOMSnapshotWhenNotNormal(t *testing.T) {
	m, _ := newTestManager(t)
	m.Store = telemetry.New([]string{"network", "console", "dom"})
	called := false
	m.CaptureDOMSnapshot = func() error {
		called = true
		return nil
	}

	m.Cleanup(Timeout)
	assert.False(t, called)
}

func TestCleanup_CapturesDOMSnapshotOnNormalWhenActive(t *testing.T) {
	m, _ := newTestManager(t)
	m.Store = telemetry.New([]string{"network", "console", "dom"})
	called := false
	m.CaptureDOMSnapshot = func() error {
		called = true
		return nil
	}

	m.Cleanup(Normal)
	assert.True(t, called)
}

func TestCleanup_ClosesConnection(t *testing.T) {
	m, _ := newTestManager(t)
	closed := false
	m.CloseConnection = func() error {
		closed = true
		return nil
	}

	m.Cleanup(Normal)
	assert.True(t, closed)
}

func TestCleanup_NilBrowserHandleSkipsTermination(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NotPanics(t, func() { m.Cleanup(Normal) })
}

func TestNewTestManager_PathsAreUnderTempDir(t *testing.T) {
	_, paths := newTestManager(t)
	assert.Equal(t, filepath.Join(paths.Dir, "session-output.json"), paths.SessionOutput)
}
