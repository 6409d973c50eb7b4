package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// LogNotifier writes notifications to the log. Used in development and when
// no Lark app is configured.
type LogNotifier struct {
	logger *zap.Logger
}

var _ port.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements port.Notifier
func (n *LogNotifier) Notify(ctx context.Context, msg port.Notification) error {
	fields := []zap.Field{
		zap.String("recipient_id", msg.RecipientID),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
	}
	if msg.RequestID != "" {
		fields = append(fields, zap.String("request_id", msg.RequestID))
	}
	if msg.TaskID != "" {
		fields = append(fields, zap.String("task_id", msg.TaskID))
	}
	if len(msg.Fields) > 0 {
		fields = append(fields, zap.Any("fields", msg.Fields))
	}
	n.logger.Info("Notification", fields...)
	return nil
}
