// Package observer reads the signals an execution leaves behind: edge hit
// counts from the coverage map and the wall-clock duration of the run.
package observer

// Observer is notified around every target invocation. Implementations must
// not modify the coverage map.
type Observer interface {
	Name() string
	PreExec()
	PostExec()
}

// Observations bundles the metadata of one execution as handed to feedback.
type Observations struct {
	Coverage CoverageMetadata
	Time     TimeMetadata
}

// Collect snapshots the standard observer pair after a run.
func Collect(cov *CoverageObserver, tm *TimeObserver) Observations {
	var obs Observations
	if cov != nil {
		obs.Coverage = cov.Snapshot()
	}
	if tm != nil {
		obs.Time = tm.Snapshot()
	}
	return obs
}
