package feedback

import (
	"strings"

	"alma.local/greybox/executor"
	"alma.local/greybox/observer"
)

type or struct {
	members []Feedback
	fast    bool
}

// Or is interesting when any member is. Every member is evaluated.
func Or(members ...Feedback) Feedback {
	return &or{members: members}
}

// OrFast is interesting when any member is, and stops at the first one that
// fires.
func OrFast(members ...Feedback) Feedback {
	return &or{members: members, fast: true}
}

func (o *or) Name() string {
	names := make([]string, len(o.members))
	for i, m := range o.members {
		names[i] = m.Name()
	}
	sep := "|"
	if o.fast {
		sep = "||"
	}
	return "(" + strings.Join(names, sep) + ")"
}

func (o *or) IsInteresting(obs observer.Observations, outcome executor.Outcome) bool {
	hit := false
	for _, m := range o.members {
		if m.IsInteresting(obs, outcome) {
			hit = true
			if o.fast {
				return true
			}
		}
	}
	return hit
}

func (o *or) Commit(obs observer.Observations) {
	for _, m := range o.members {
		m.Commit(obs)
	}
}

func (o *or) Members() []Feedback { return o.members }
