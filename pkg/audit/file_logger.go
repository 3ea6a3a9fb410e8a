package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/dentflow/dentflow/pkg/contextkeys"
)

// FileLogger appends audit events as JSON lines to a file. Each line is a
// logrus entry; rotation is left to the host (logrotate copytruncate works
// against the append-only handle).
type FileLogger struct {
	log  *logrus.Logger
	file *os.File
}

// NewFileLogger opens (or creates) the audit log at path.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	log := logrus.New()
	log.SetOutput(file)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	log.SetLevel(logrus.InfoLevel)

	return &FileLogger{log: log, file: file}, nil
}

// Record writes one event. The request ID is pulled from ctx when the event
// does not carry one. Write failures go to stderr via logrus itself; the
// caller's mutation has already committed.
func (l *FileLogger) Record(ctx context.Context, event Event) {
	requestID := event.RequestID
	if requestID == "" {
		requestID = contextkeys.GetRequestID(ctx)
	}

	fields := logrus.Fields{
		"action":         event.Action,
		"actor_id":       event.ActorID,
		"target_user_id": event.TargetUserID,
	}
	if event.Subject != "" {
		fields["subject"] = event.Subject
	}
	if event.Detail != "" {
		fields["detail"] = event.Detail
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}

	l.log.WithContext(ctx).WithFields(fields).Info("audit")
}

// Close flushes and closes the underlying file.
func (l *FileLogger) Close() error {
	return l.file.Close()
}
