package check

import (
	"context"
	"fmt"

	"github.com/conorfennell/knolfix/internal/storage"
)

// phase is one repair step. It runs inside its own transaction.
type phase struct {
	name string
	fn   func(ctx context.Context, tx *storage.Tx) error
}

// run executes a phase in a transaction. A failing phase is rolled back and
// reported; the run continues with the next phase.
func (s *session) run(ctx context.Context, p phase) {
	s.progress.advance()
	s.log.Debug("Running check phase", "phase", p.name)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		s.fail(p.name, err)
		return
	}

	if err := p.fn(ctx, tx); err != nil {
		s.problems.discard()
		s.fail(p.name, err)
		if err := tx.Rollback(); err != nil {
			s.fail(p.name, fmt.Errorf("failed to end transaction: %w", err))
		}
		return
	}

	if err := tx.Commit(); err != nil {
		s.problems.discard()
		s.fail(p.name, err)
		return
	}
	s.problems.commit()
}

func (s *session) fail(phase string, err error) {
	s.log.Error("Check phase failed", "phase", phase, "error", err)
	s.telemetry.ReportException(err, "check:"+phase)
}
