package restart

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alma.local/greybox/internal/shmem"
	"alma.local/greybox/monitor"
)

const (
	envHelper    = "GREYBOX_RESTART_HELPER"
	envHelperDir = "GREYBOX_RESTART_HELPER_DIR"
)

// The test binary doubles as the worker: the supervisor re-executes it with
// EnvWorker set and the helper mode in the environment.
func TestMain(m *testing.M) {
	if mode := os.Getenv(envHelper); mode != "" && IsWorker() {
		os.Exit(helper(mode, os.Getenv(envHelperDir)))
	}
	os.Exit(m.Run())
}

func helper(mode, dir string) int {
	run := bumpRun(dir)
	if mode == "die-early" {
		return 3
	}

	c, err := Dial(os.Getenv(EnvAddr))
	if err != nil {
		return ExitFatal
	}
	defer c.Close()
	res, err := c.Connect()
	if err != nil {
		return ExitFatal
	}

	switch mode {
	case "idle":
		time.Sleep(300 * time.Millisecond)
		return ExitDone
	case "resume":
		if res.ID != run-1 {
			return ExitFatal
		}
		if _, err := c.Report(monitor.ClientStats{Executions: uint64(5 * run)}); err != nil {
			return ExitFatal
		}
		if run == 1 {
			return ExitRestart
		}
		return ExitDone
	case "restart-once":
		if run == 1 {
			return ExitRestart
		}
		return ExitDone
	case "fatal":
		return ExitFatal
	case "bad-state":
		if run == 1 {
			return ExitStateRestore
		}
		if _, err := os.Stat(filepath.Join(dir, CheckpointFile)); os.IsNotExist(err) {
			return ExitDone
		}
		return ExitFatal
	case "crash", "hang":
		if run == 1 {
			r, err := shmem.Open(filepath.Join(dir, InflightFile))
			if err != nil {
				return ExitFatal
			}
			r.Begin([]byte(mode + "-input"))
			if mode == "hang" {
				time.Sleep(time.Hour)
			}
			os.Exit(3)
		}
		data, _ := os.ReadFile(filepath.Join(dir, FaultFile))
		kind, _ := os.ReadFile(filepath.Join(dir, FaultKindFile))
		want := map[string]string{"crash": "crashed", "hang": "timeout"}[mode]
		if string(data) == mode+"-input" && string(kind) == want {
			return ExitDone
		}
		return ExitFatal
	case "drain":
		for {
			shutdown, err := c.Report(monitor.ClientStats{Executions: uint64(run)})
			if err != nil {
				return ExitFatal
			}
			if shutdown {
				return ExitDone
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return ExitFatal
}

func bumpRun(dir string) int {
	path := filepath.Join(dir, "runs")
	raw, _ := os.ReadFile(path)
	n, _ := strconv.Atoi(string(raw))
	n++
	os.WriteFile(path, []byte(strconv.Itoa(n)), 0o644)
	return n
}

func newSupervisor(t *testing.T, mode string, timeout time.Duration) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)
	cfg := Config{
		WorkDir: dir,
		Timeout: timeout,
		Grace:   timeout,
		Binary:  os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     []string{envHelper + "=" + mode, envHelperDir + "=" + dir},
	}
	return NewSupervisor(cfg, monitor.New("test", log, nil), log), dir
}

func runs(t *testing.T, dir string) int {
	raw, err := os.ReadFile(filepath.Join(dir, "runs"))
	require.NoError(t, err)
	n, err := strconv.Atoi(string(raw))
	require.NoError(t, err)
	return n
}

func TestSupervisorRestartsAfterObjective(t *testing.T) {
	s, dir := newSupervisor(t, "restart-once", time.Second)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, runs(t, dir))
	assert.Equal(t, uint64(1), s.Restarts())
}

func TestSupervisorStopsOnFatal(t *testing.T) {
	s, dir := newSupervisor(t, "fatal", time.Second)

	assert.ErrorIs(t, s.Run(context.Background()), ErrWorkerFatal)
	assert.Equal(t, 1, runs(t, dir))
}

func TestSupervisorDropsUnreadableCheckpoint(t *testing.T) {
	s, dir := newSupervisor(t, "bad-state", time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(dir, CheckpointFile), []byte("junk"), 0o644))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, runs(t, dir))
}

func TestSupervisorHandsOffCrashInput(t *testing.T) {
	s, dir := newSupervisor(t, "crash", time.Second)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, runs(t, dir))
	data, err := os.ReadFile(filepath.Join(dir, FaultFile))
	require.NoError(t, err)
	assert.Equal(t, "crash-input", string(data))
}

func TestSupervisorWatchdogKillsHungWorker(t *testing.T) {
	s, dir := newSupervisor(t, "hang", 50*time.Millisecond)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, runs(t, dir))
	kind, err := os.ReadFile(filepath.Join(dir, FaultKindFile))
	require.NoError(t, err)
	assert.Equal(t, "timeout", string(kind))
}

func TestSupervisorCrashLoop(t *testing.T) {
	s, dir := newSupervisor(t, "die-early", time.Second)

	assert.ErrorIs(t, s.Run(context.Background()), ErrCrashLoop)
	assert.Equal(t, DefaultMaxStartupFailures+1, runs(t, dir))
}

func TestSupervisorShutdownDrainsWorker(t *testing.T) {
	s, dir := newSupervisor(t, "drain", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, runs(t, dir))
	assert.Equal(t, uint64(1), s.mon.Total().Executions)
}

func TestSupervisorClearsStaleInflightRegion(t *testing.T) {
	s, dir := newSupervisor(t, "idle", 50*time.Millisecond)
	r, err := shmem.Open(filepath.Join(dir, InflightFile))
	require.NoError(t, err)
	r.Begin([]byte("innocent-input"))
	require.NoError(t, r.Close())

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, runs(t, dir))
	assert.Equal(t, uint64(0), s.Restarts())
	assert.NoFileExists(t, filepath.Join(dir, FaultFile))
}

func TestSupervisorNumbersWorkers(t *testing.T) {
	s, dir := newSupervisor(t, "resume", time.Second)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, runs(t, dir))
	assert.Equal(t, uint64(10), s.mon.Total().Executions)
	assert.Contains(t, s.mon.Line(), "clients: 1,")
}

func TestSupervisorListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s, _ := newSupervisor(t, "fatal", time.Second)
	s.cfg.Port = ln.Addr().(*net.TCPAddr).Port

	assert.ErrorIs(t, s.Run(context.Background()), ErrSetup)
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(addr)
	assert.ErrorIs(t, err, ErrSetup)
}
