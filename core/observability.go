package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

type instrumented struct {
	logger          Logger
	metricsRecorder MetricsRecorder
}

func (in instrumented) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"record_key", "obligation_id", "session_status"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	in.recordCounter(ctx, "campuskit."+operation+".total", 1, tags)
	in.recordHistogram(ctx, "campuskit."+operation+".duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		in.logError(ctx, operation+" failed", contextFields)
		return
	}
	in.logInfo(ctx, operation+" succeeded", contextFields)
}

func (in instrumented) logInfo(ctx context.Context, message string, fields map[string]any) {
	in.logWithLevel(ctx, "info", message, fields)
}

func (in instrumented) logError(ctx context.Context, message string, fields map[string]any) {
	in.logWithLevel(ctx, "error", message, fields)
}

func (in instrumented) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if in.logger == nil {
		return
	}
	logger := in.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (in instrumented) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if in.metricsRecorder == nil {
		return
	}
	in.metricsRecorder.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (in instrumented) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if in.metricsRecorder == nil {
		return
	}
	in.metricsRecorder.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
