package check

import "fmt"

// totalSteps is the number of progress ticks a run publishes for the given
// number of note types: the pre-check, every phase run, the per note type
// runs of the template and field count phases, the inner tick of the field
// count phase and one tick per note type of the field cache rebuild.
func totalSteps(models int) int {
	return 4*models + 16
}

// tracker publishes "label N / total" messages.
type tracker struct {
	reporter Reporter
	label    string
	done     int
	total    int
}

func newTracker(reporter Reporter, label string) *tracker {
	return &tracker{reporter: reporter, label: label}
}

func (t *tracker) advance() {
	t.done++
	t.reporter.PublishProgress(fmt.Sprintf("%s %d / %d", t.label, t.done, t.total))
}
