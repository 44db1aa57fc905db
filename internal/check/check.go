// Package check repairs structural inconsistencies in a collection. A run is
// gated by a physical integrity check, then executes a fixed list of repair
// phases, each in its own transaction, compacts the database file and reports
// every fix it applied.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/conorfennell/knolfix/internal/collection"
	"github.com/conorfennell/knolfix/internal/domain"
	"github.com/conorfennell/knolfix/internal/storage"
)

// ErrCorrupt is returned when the database fails the integrity check. No
// repair is attempted in that case.
var ErrCorrupt = errors.New("collection database is corrupt")

// DefaultProgressLabel prefixes every progress message.
const DefaultProgressLabel = "Checking database"

// DefaultMaxReportedProblems caps the problems sent to telemetry.
const DefaultMaxReportedProblems = 10

// Reporter receives progress updates. Delivery is fire-and-forget.
type Reporter interface {
	PublishProgress(status string)
}

// Telemetry receives diagnostics. Implementations must not block.
type Telemetry interface {
	ReportEvent(category, message string)
	ReportException(err error, context string)
}

// Result is the outcome of a completed check.
type Result struct {
	// Problems describes every fix applied, in phase order.
	Problems []string `json:"problems"`
	// BytesSaved is the file size reclaimed, in kilobytes. It is negative
	// when the file grew.
	BytesSaved int64 `json:"kb_saved"`
}

// Option configures a check run.
type Option func(*options)

type options struct {
	label       string
	maxReported int
	telemetry   Telemetry
	logger      *slog.Logger
	size        func() (int64, error)
}

// WithProgressLabel sets the text shown in front of the progress counter.
func WithProgressLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithMaxReportedProblems sets how many problems are sent to telemetry.
func WithMaxReportedProblems(n int) Option {
	return func(o *options) {
		o.maxReported = n
	}
}

// WithTelemetry sets the diagnostics sink.
func WithTelemetry(t Telemetry) Option {
	return func(o *options) {
		o.telemetry = t
	}
}

// WithLogger sets the logger used for the run.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// withSize replaces how the collection file size is measured.
func withSize(fn func() (int64, error)) Option {
	return func(o *options) {
		o.size = fn
	}
}

type noopTelemetry struct{}

func (noopTelemetry) ReportEvent(string, string)     {}
func (noopTelemetry) ReportException(error, string) {}

type noopReporter struct{}

func (noopReporter) PublishProgress(string) {}

// session holds the state of a single run.
type session struct {
	col       *collection.Collection
	db        *storage.DB
	log       *slog.Logger
	telemetry Telemetry
	progress  *tracker
	problems  *ledger
	// models is the note type set as seen when the run started.
	models      []*domain.Model
	maxReported int
	size        func() (int64, error)
}

func newSession(col *collection.Collection, reporter Reporter, opts []Option) *session {
	o := options{
		label:       DefaultProgressLabel,
		maxReported: DefaultMaxReportedProblems,
		telemetry:   noopTelemetry{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if reporter == nil {
		reporter = noopReporter{}
	}
	if o.size == nil {
		o.size = col.DB().Size
	}
	return &session{
		col:         col,
		db:          col.DB(),
		log:         o.logger.With("check_id", uuid.NewString(), "collection", col.Path()),
		telemetry:   o.telemetry,
		progress:    newTracker(reporter, o.label),
		problems:    &ledger{},
		maxReported: o.maxReported,
		size:        o.size,
	}
}

// Run checks the collection and repairs what it can. It returns ErrCorrupt
// when the integrity check fails. Failures of individual phases are logged
// and reported, never returned.
func Run(ctx context.Context, col *collection.Collection, reporter Reporter, opts ...Option) (*Result, error) {
	s := newSession(col, reporter, opts)

	sizeBefore, err := s.size()
	if err != nil {
		return nil, err
	}

	if err := s.precheck(ctx); err != nil {
		s.log.Error("Collection failed pre-check", "error", err)
		return nil, err
	}

	s.log.Info("Checking collection", "models", len(s.models), "steps", s.progress.total)
	for _, p := range s.phases() {
		s.run(ctx, p)
	}

	s.compact(ctx)

	// Repairs are committed by now, so the outcome is still built.
	sizeAfter, err := s.size()
	if err != nil {
		s.log.Error("Failed to measure compacted collection", "error", err)
		s.telemetry.ReportException(err, "check:size")
		sizeAfter = sizeBefore
	}
	return s.outcome(ctx, sizeBefore, sizeAfter), nil
}

// RunSizeOnly runs a check and returns only the kilobytes reclaimed, or -1
// when the check could not run.
func RunSizeOnly(ctx context.Context, col *collection.Collection, reporter Reporter, opts ...Option) int64 {
	res, err := Run(ctx, col, reporter, opts...)
	if err != nil {
		return -1
	}
	return res.BytesSaved
}

// precheck saves pending state and verifies the database structure. The note
// type snapshot that sizes the run is taken in the same transaction.
func (s *session) precheck(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.col.Save(ctx, tx); err != nil {
		return err
	}

	ok, err := tx.IntegrityOK(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !ok {
		return ErrCorrupt
	}

	s.models, err = s.col.Models(ctx, tx)
	if err != nil {
		return err
	}
	s.progress.total = totalSteps(len(s.models))
	s.progress.advance()

	return tx.Commit()
}
