package observer

import "time"

// TimeMetadata carries the wall-clock duration of one run.
type TimeMetadata struct {
	Elapsed time.Duration
}

// TimeObserver measures the wall-clock duration of each execution.
type TimeObserver struct {
	name    string
	now     func() time.Time
	start   time.Time
	elapsed time.Duration
}

func NewTimeObserver(name string) *TimeObserver {
	return &TimeObserver{name: name, now: time.Now}
}

func (o *TimeObserver) Name() string { return o.name }

func (o *TimeObserver) PreExec() {
	o.start = o.now()
	o.elapsed = 0
}

func (o *TimeObserver) PostExec() {
	o.elapsed = o.now().Sub(o.start)
}

func (o *TimeObserver) Snapshot() TimeMetadata {
	return TimeMetadata{Elapsed: o.elapsed}
}
