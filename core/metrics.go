package core

import "context"

// NopMetricsRecorder discards every measurement. Services built without
// WithMetricsRecorder fall back to it, so the campuskit.* counter and
// histogram series are always safe to emit.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}
