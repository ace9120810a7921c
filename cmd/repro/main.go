// Command repro replays every stored crash record against its target and
// prints whether each one still reproduces.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"alma.local/greybox/corpus"
	"alma.local/greybox/executor"
	"alma.local/greybox/targets"
	_ "alma.local/greybox/targets/vuln"
)

var (
	flagCrashes = flag.String("crashes", "./crashes", "crash record directory")
	flagTarget  = flag.String("target", "vuln", "registered target")
	flagTimeout = flag.Duration("timeout", executor.DefaultTimeout, "per-replay timeout")
)

type row struct {
	name     string
	size     int
	recorded executor.Outcome
	replayed executor.Outcome
}

func main() {
	flag.Parse()

	target, err := targets.Lookup(*flagTarget)
	if err != nil {
		logrus.Fatalf("target: %v", err)
	}
	store, err := corpus.OpenCrashStore(*flagCrashes, *flagTarget)
	if err != nil {
		logrus.Fatalf("crash store: %v", err)
	}

	rows, err := replay(store, target, *flagTimeout)
	if err != nil {
		logrus.Fatalf("replay: %v", err)
	}
	render(rows)

	for _, r := range rows {
		if r.replayed != r.recorded {
			os.Exit(1)
		}
	}
}

// replay runs each record on a fresh executor: a crash or timeout poisons
// the executor it happened on.
func replay(store *corpus.CrashStore, target executor.Target, timeout time.Duration) ([]row, error) {
	names, err := store.List()
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("component", "repro")
	var rows []row
	for _, name := range names {
		rec, err := store.Load(name)
		if err != nil {
			return nil, err
		}
		exec := executor.NewInProcessExecutor(target, executor.Options{Timeout: timeout, Log: log})
		outcome, err := exec.Run(rec.Data)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row{name: name, size: len(rec.Data), recorded: rec.Outcome, replayed: outcome})
	}
	return rows, nil
}

func render(rows []row) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Record", "Size", "Recorded", "Replayed", "Reproduces"})
	for _, r := range rows {
		table.Append([]string{
			r.name,
			strconv.Itoa(r.size),
			r.recorded.String(),
			r.replayed.String(),
			fmt.Sprint(r.replayed == r.recorded),
		})
	}
	table.Render()
}
