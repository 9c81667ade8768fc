package log

import (
	"path/filepath"

	"transity.ai/internal/sim/world"
)

// EventLogger writes world lifecycle and placement events (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(worldDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "events"), "events")}
}

func (l *EventLogger) WriteEvent(e world.EventEntry) error { return l.w.Write(e) }
func (l *EventLogger) Close() error                        { return l.w.Close() }

// MetricsLogger samples WorldMetrics periodically (compressed).
type MetricsLogger struct{ w *JSONLZstdWriter }

func NewMetricsLogger(worldDir string) *MetricsLogger {
	return &MetricsLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "metrics"), "metrics")}
}

func (l *MetricsLogger) WriteMetrics(m world.WorldMetrics) error { return l.w.Write(m) }
func (l *MetricsLogger) Close() error                            { return l.w.Close() }
