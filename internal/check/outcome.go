package check

import (
	"context"

	"github.com/dustin/go-humanize"
)

// ProblemCategory is the telemetry category problems are reported under.
const ProblemCategory = "DatabaseCorruption"

// outcome assembles the result. Any fix forces the next sync to be a full
// one, since deletions cannot be replayed incrementally on a replica.
func (s *session) outcome(ctx context.Context, sizeBefore, sizeAfter int64) *Result {
	res := &Result{
		Problems:   s.problems.list(),
		BytesSaved: (sizeBefore - sizeAfter) / 1024,
	}

	if len(res.Problems) > 0 {
		if err := s.col.ModSchema(ctx); err != nil {
			s.log.Error("Failed to mark schema modified", "error", err)
			s.telemetry.ReportException(err, "check:mod-schema")
		}
	}

	s.reportProblems(res.Problems)
	s.log.Info("Collection check finished",
		"problems", len(res.Problems),
		"size_before", humanize.IBytes(uint64(max(sizeBefore, 0))),
		"size_after", humanize.IBytes(uint64(max(sizeAfter, 0))),
	)
	return res
}

// reportProblems logs every problem and sends the first few to telemetry.
func (s *session) reportProblems(problems []string) {
	for i, p := range problems {
		s.log.Info("Fixed collection problem", "problem", p)
		if i < s.maxReported {
			s.telemetry.ReportEvent(ProblemCategory, p)
		}
	}
}
