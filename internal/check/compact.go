package check

import "context"

// compact reclaims free pages once all phases ran. It needs exclusive use of
// the file, so it runs outside any transaction. Failure is not fatal.
func (s *session) compact(ctx context.Context) {
	s.log.Debug("Compacting collection")
	if err := s.db.Vacuum(ctx); err != nil {
		s.log.Error("Failed to compact collection", "error", err)
		s.telemetry.ReportException(err, "check:compact")
	}
}
