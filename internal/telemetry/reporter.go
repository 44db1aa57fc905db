package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reporter records check problems and failures on a single span covering
// the whole check run. It never blocks; export happens in the background.
type Reporter struct {
	span trace.Span
}

// Start opens the span events and errors are recorded on. End must be called
// once the check finished.
func Start(ctx context.Context, tracer trace.Tracer, collection string) (context.Context, *Reporter) {
	ctx, span := tracer.Start(ctx, "check",
		trace.WithAttributes(attribute.String("collection.path", collection)),
	)
	return ctx, &Reporter{span: span}
}

// ReportEvent records a named event with a message.
func (r *Reporter) ReportEvent(category, message string) {
	r.span.AddEvent(category, trace.WithAttributes(attribute.String("message", message)))
}

// ReportException records an error and marks the run as failed.
func (r *Reporter) ReportException(err error, where string) {
	r.span.RecordError(err, trace.WithAttributes(attribute.String("context", where)))
	r.span.SetStatus(codes.Error, where)
}

func (r *Reporter) End() {
	r.span.End()
}
