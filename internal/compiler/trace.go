package compiler

import (
	"context"

	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const tracerName = "github.com/robert-at-pretension-io/amsgen/internal/compiler"

// logExporter writes finished spans as log entries
type logExporter struct {
	log logrus.FieldLogger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := logrus.Fields{
			"span":     s.Name(),
			"duration": s.EndTime().Sub(s.StartTime()).String(),
		}
		for _, kv := range s.Attributes() {
			fields[string(kv.Key)] = kv.Value.Emit()
		}
		if s.Status().Description != "" {
			fields["error"] = s.Status().Description
		}
		e.log.WithFields(fields).Info("trace")
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }

// NewTracerProvider returns a provider that logs every finished span
// through log. Callers shut it down when the run ends.
func NewTracerProvider(log logrus.FieldLogger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(&logExporter{log: log}))
}
