package events

import "go.uber.org/zap"

// ZapHandler returns a Handler that renders events as structured zap log
// lines. Failure events log at Error level; everything else logs at Info.
func ZapHandler(logger *zap.Logger) Handler {
	return func(e Event) {
		fields := []zap.Field{
			zap.String("event", string(e.Type)),
			zap.Time("time", e.Time),
		}
		if e.JobID != "" {
			fields = append(fields, zap.String("job_id", e.JobID))
		}
		if e.WorkerID != "" {
			fields = append(fields, zap.String("worker_id", e.WorkerID))
		}
		if e.Payload != nil {
			fields = append(fields, zap.Any("payload", e.Payload))
		}

		if e.Error != "" {
			fields = append(fields, zap.String("error", e.Error))
		}
		if e.IsFailure() {
			logger.Error("event", fields...)
			return
		}
		logger.Info("event", fields...)
	}
}
