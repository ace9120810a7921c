// Package restart keeps a campaign alive across target faults: a supervisor
// process respawns worker processes, watches their in-flight input and hands
// faults over to the next worker.
package restart

import (
	"net"
	"net/rpc"
	"os"

	"github.com/pkg/errors"

	"alma.local/greybox/monitor"
)

// Environment passed from the supervisor to each worker it spawns.
const (
	EnvWorker = "GREYBOX_WORKER"
	EnvAddr   = "GREYBOX_SUPERVISOR_ADDR"
)

// Worker exit codes understood by the supervisor. Any other status is a hard
// fault.
const (
	ExitDone         = 0
	ExitRestart      = 100
	ExitStateRestore = 101
	ExitFatal        = 102
)

// File names inside the work directory.
const (
	InflightFile   = "inflight"
	CheckpointFile = "state.ckpt"
	FaultFile      = "fault.input"
	FaultKindFile  = "fault.outcome"
)

var (
	// ErrSetup is a failure to set up the supervisor channel.
	ErrSetup = errors.New("restart channel setup failed")
	// ErrCrashLoop means workers keep dying before they connect.
	ErrCrashLoop = errors.New("worker crash loop")
	// ErrWorkerFatal means a worker exited with ExitFatal.
	ErrWorkerFatal = errors.New("worker reported a fatal error")
)

type ConnectArgs struct {
	PID int
}

type ConnectRes struct {
	ID       int
	Restarts uint64
}

type ReportArgs struct {
	ID    int
	Stats monitor.ClientStats
}

type ReportRes struct {
	Shutdown bool
}

// IsWorker reports whether this process was spawned as a worker.
func IsWorker() bool {
	return os.Getenv(EnvWorker) == "1"
}

// Client is the worker's connection to its supervisor.
type Client struct {
	c  *rpc.Client
	id int
}

// Dial connects to the supervisor at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrSetup, "dial %s: %v", addr, err)
	}
	return &Client{c: rpc.NewClient(conn)}, nil
}

// Connect registers the worker and returns its identity.
func (c *Client) Connect() (ConnectRes, error) {
	var res ConnectRes
	if err := c.c.Call("Supervisor.Connect", &ConnectArgs{PID: os.Getpid()}, &res); err != nil {
		return res, errors.Wrapf(ErrSetup, "connect: %v", err)
	}
	c.id = res.ID
	return res, nil
}

// Report sends stats and returns the supervisor's shutdown flag.
func (c *Client) Report(st monitor.ClientStats) (bool, error) {
	var res ReportRes
	if err := c.c.Call("Supervisor.Report", &ReportArgs{ID: c.id, Stats: st}, &res); err != nil {
		return false, errors.Wrap(err, "report")
	}
	return res.Shutdown, nil
}

func (c *Client) Close() error {
	return c.c.Close()
}
