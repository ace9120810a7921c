package restart

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"alma.local/greybox/executor"
	"alma.local/greybox/internal/osutil"
	"alma.local/greybox/internal/shmem"
	"alma.local/greybox/monitor"
)

const (
	DefaultGrace              = 2 * time.Second
	DefaultMaxStartupFailures = 3
)

// Config describes how to run workers.
type Config struct {
	// Port on 127.0.0.1 for the RPC channel. Zero picks a free port.
	Port    int
	WorkDir string
	// Timeout is the per-execution budget; the watchdog fires after
	// Timeout + Grace.
	Timeout            time.Duration
	Grace              time.Duration
	ReportInterval     time.Duration
	MaxStartupFailures int
	// Binary and Args start a worker. Binary defaults to this executable.
	Binary string
	Args   []string
	Env    []string
}

// Supervisor spawns workers one at a time and replaces them when they exit
// for a restartable reason.
type Supervisor struct {
	cfg    Config
	mon    *monitor.Monitor
	log    *logrus.Entry
	region *shmem.Region
	addr   string

	mu        sync.Mutex
	shutdown  bool
	connected bool
	restarts  uint64
	nextID    int
}

func NewSupervisor(cfg Config, mon *monitor.Monitor, log *logrus.Entry) *Supervisor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = executor.DefaultTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.MaxStartupFailures <= 0 {
		cfg.MaxStartupFailures = DefaultMaxStartupFailures
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 5 * time.Second
	}
	if log == nil {
		log = logrus.WithField("component", "supervisor")
	}
	return &Supervisor{cfg: cfg, mon: mon, log: log}
}

// Addr is the RPC address once Run has started listening.
func (s *Supervisor) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Restarts is the number of workers replaced so far.
func (s *Supervisor) Restarts() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Run supervises workers until one finishes its campaign, a fatal condition
// occurs, or ctx is cancelled. Cancelling ctx asks the running worker to shut
// down; Run returns once it has exited.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := osutil.MkdirAll(s.cfg.WorkDir); err != nil {
		return errors.Wrapf(ErrSetup, "work dir: %v", err)
	}
	region, err := shmem.Open(filepath.Join(s.cfg.WorkDir, InflightFile))
	if err != nil {
		return errors.Wrap(ErrSetup, err.Error())
	}
	defer region.Close()
	// A region left behind by an earlier campaign must not be blamed on
	// this campaign's first worker.
	if stale := region.Read(); stale.Running {
		s.log.WithField("input", stale.Data.String()).Warn("discarding stale in-flight input")
	}
	region.Clear()
	s.region = region

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		return errors.Wrapf(ErrSetup, "listen: %v", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := rpc.NewServer()
	if err := srv.RegisterName("Supervisor", &service{s: s}); err != nil {
		ln.Close()
		return errors.Wrap(ErrSetup, err.Error())
	}
	s.log.WithFields(logrus.Fields{"addr": s.addr, "inflight": region.Path()}).Info("supervisor listening")

	// The RPC channel outlives ctx so a draining worker can still report.
	runCtx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return nil
			}
			go srv.ServeConn(conn)
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.ReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.mon.Display()
			}
		}
	})
	g.Go(func() error {
		defer stop()
		return s.loop(ctx)
	})
	err = g.Wait()
	s.mon.Display()
	return err
}

func (s *Supervisor) loop(ctx context.Context) error {
	failures := 0
	restoreRetried := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()

		code, watchdog, err := s.runWorker(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		connected := s.connected
		s.mu.Unlock()
		log := s.log.WithField("exit", code)

		switch code {
		case ExitDone:
			log.Info("worker finished")
			return nil
		case ExitRestart:
			log.Info("worker restarting after objective")
			failures = 0
		case ExitStateRestore:
			if restoreRetried {
				return errors.New("worker cannot restore a fresh state")
			}
			restoreRetried = true
			log.Warn("checkpoint unreadable, starting from a fresh state")
			if err := os.Remove(filepath.Join(s.cfg.WorkDir, CheckpointFile)); err != nil && !os.IsNotExist(err) {
				return errors.Wrap(err, "remove checkpoint")
			}
		case ExitFatal:
			return ErrWorkerFatal
		default:
			if err := s.handoff(watchdog); err != nil {
				return err
			}
			if connected {
				failures = 0
			} else {
				failures++
				if failures > s.cfg.MaxStartupFailures {
					return errors.Wrapf(ErrCrashLoop, "%d workers died before connecting", failures)
				}
			}
			log.WithField("watchdog", watchdog).Warn("worker died")
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		s.mon.AddRestart()
	}
}

// handoff saves the input the dead worker was running for its successor.
func (s *Supervisor) handoff(watchdog bool) error {
	snap := s.region.Read()
	s.region.Clear()
	if !snap.Running {
		return nil
	}
	outcome := executor.Crashed
	if watchdog {
		outcome = executor.TimedOut
	}
	if err := osutil.WriteFileAtomic(filepath.Join(s.cfg.WorkDir, FaultFile), snap.Data); err != nil {
		return errors.Wrap(err, "save fault input")
	}
	if err := osutil.WriteFileAtomic(filepath.Join(s.cfg.WorkDir, FaultKindFile), []byte(outcome.String())); err != nil {
		return errors.Wrap(err, "save fault outcome")
	}
	s.log.WithFields(logrus.Fields{
		"input":   snap.Data.String(),
		"outcome": outcome,
	}).Warn("handing fault input to the next worker")
	return nil
}

// runWorker starts one worker and waits for it, killing it when its current
// run overstays the watchdog limit or it ignores a shutdown request.
func (s *Supervisor) runWorker(ctx context.Context) (code int, watchdog bool, err error) {
	bin := s.cfg.Binary
	if bin == "" {
		if bin, err = os.Executable(); err != nil {
			return 0, false, errors.Wrapf(ErrSetup, "locate executable: %v", err)
		}
	}
	cmd := exec.Command(bin, s.cfg.Args...)
	cmd.Env = append(os.Environ(), EnvWorker+"=1", EnvAddr+"="+s.Addr())
	cmd.Env = append(cmd.Env, s.cfg.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, false, errors.Wrapf(ErrSetup, "start worker: %v", err)
	}
	pid := cmd.Process.Pid
	s.log.WithField("pid", pid).Info("worker started")

	waitc := make(chan error, 1)
	go func() { waitc <- cmd.Wait() }()

	limit := s.cfg.Timeout + s.cfg.Grace
	poll := limit / 4
	if poll > time.Second {
		poll = time.Second
	}
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	done := ctx.Done()
	var drainDeadline time.Time
	for {
		select {
		case werr := <-waitc:
			return exitCode(werr), watchdog, nil
		case <-done:
			done = nil
			s.requestShutdown()
			drainDeadline = time.Now().Add(limit)
		case <-ticker.C:
			snap := s.region.Read()
			if !watchdog && snap.Running && time.Since(snap.Started) > limit {
				watchdog = true
				s.log.WithFields(logrus.Fields{"pid": pid, "limit": limit}).Warn("watchdog killing worker")
				if err := unix.Kill(pid, unix.SIGKILL); err != nil {
					s.log.WithError(err).Error("kill worker")
				}
			}
			if !drainDeadline.IsZero() && time.Now().After(drainDeadline) {
				s.log.WithField("pid", pid).Warn("worker ignored shutdown, killing it")
				unix.Kill(pid, unix.SIGKILL)
				drainDeadline = time.Time{}
			}
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitDone
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func (s *Supervisor) requestShutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.log.Info("shutdown requested, waiting for worker to drain")
}

type service struct {
	s *Supervisor
}

func (svc *service) Connect(args *ConnectArgs, res *ConnectRes) error {
	s := svc.s
	s.mu.Lock()
	s.connected = true
	res.ID = s.nextID
	res.Restarts = s.restarts
	s.nextID++
	s.mu.Unlock()
	// The successor resumes from the predecessor's checkpoint, so its
	// counters continue the old ones rather than adding to them.
	if res.ID > 0 {
		s.mon.Handover(res.ID-1, res.ID)
	}
	s.log.WithFields(logrus.Fields{"pid": args.PID, "id": res.ID}).Debug("worker connected")
	return nil
}

func (svc *service) Report(args *ReportArgs, res *ReportRes) error {
	s := svc.s
	s.mon.Update(args.ID, args.Stats)
	s.mu.Lock()
	res.Shutdown = s.shutdown
	s.mu.Unlock()
	return nil
}
