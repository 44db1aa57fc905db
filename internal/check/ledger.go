package check

import "fmt"

// ledger collects the problems fixed by a run. Entries recorded by a phase
// are staged until its transaction commits.
type ledger struct {
	problems []string
	staged   []string
}

// addf stages a problem description for the running phase.
func (l *ledger) addf(format string, args ...any) {
	l.staged = append(l.staged, fmt.Sprintf(format, args...))
}

func (l *ledger) commit() {
	l.problems = append(l.problems, l.staged...)
	l.staged = nil
}

func (l *ledger) discard() {
	l.staged = nil
}

func (l *ledger) list() []string {
	return append([]string(nil), l.problems...)
}
