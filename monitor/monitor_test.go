package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLine(t *testing.T) {
	line := FormatLine("greybox", 62*time.Second, 1, ClientStats{
		Executions: 12400,
		Iterations: 12380,
		Objectives: 3,
		Corpus:     12,
	}, 2)

	assert.Equal(t, "[greybox] run time: 1m2s, clients: 1, corpus: 12, objectives: 3, iterations: 12380, executions: 12400, exec/sec: 200, restarts: 2", line)
}

func TestExecsPerSec(t *testing.T) {
	assert.Equal(t, "0", ExecsPerSec(100, 0))
	assert.Equal(t, "50", ExecsPerSec(100, 2*time.Second))
	assert.Equal(t, "2.5k", ExecsPerSec(5000, 2*time.Second))
}

func TestMonitorHandover(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := New("greybox", logrus.NewEntry(logger), nil)

	m.Update(0, ClientStats{Executions: 40, Corpus: 4})
	m.Handover(0, 1)
	assert.Equal(t, uint64(40), m.Total().Executions)
	assert.Contains(t, m.Line(), "clients: 1,")

	// The successor reports counters restored from the checkpoint.
	m.Update(1, ClientStats{Executions: 55, Corpus: 5})
	assert.Equal(t, uint64(55), m.Total().Executions)
	assert.Contains(t, m.Line(), "clients: 1,")

	m.Handover(7, 8)
	assert.Equal(t, uint64(55), m.Total().Executions)
}

func TestMonitorAggregatesAndExports(t *testing.T) {
	logger, hook := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	m := New("greybox", logrus.NewEntry(logger), NewMetrics(reg))

	m.Update(0, ClientStats{Executions: 10, Corpus: 2, Objectives: 1, Edges: 5})
	m.Update(0, ClientStats{Executions: 20, Corpus: 3, Objectives: 1, Edges: 7})
	m.AddRestart()

	total := m.Total()
	assert.Equal(t, uint64(20), total.Executions)
	assert.Equal(t, 3, total.Corpus)

	m.Display()
	require.Len(t, hook.Entries, 1)
	assert.True(t, strings.HasPrefix(hook.LastEntry().Message, "[greybox] run time:"))
	assert.Contains(t, hook.LastEntry().Message, "restarts: 1")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)

	values := make(map[string]float64)
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 3.0, values["greybox_corpus_size"])
	assert.Equal(t, 20.0, values["greybox_executions_total"])
	assert.Equal(t, 1.0, values["greybox_worker_restarts_total"])
}
