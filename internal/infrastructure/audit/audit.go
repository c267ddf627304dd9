// Package audit implements the append-only audit.jsonl stream (§6
// Persisted state layout), adapted from the teacher's WAL-backed
// eventbus.PersistentBus: the write-ahead-log discipline (append, flush,
// tolerate a corrupt trailing line) is exactly what an audit trail needs,
// but there is no rotation and no replay-into-a-bus step — audit.jsonl is
// itself the durable record, not a staging area for another store.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// Log is an append-only writer for audit.jsonl, and the concrete
// implementation of service.Auditor.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	logger *zap.Logger
}

// Open creates or appends to <storageDir>/audit.jsonl.
func Open(storageDir string, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	path := filepath.Join(storageDir, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{
		file:   f,
		writer: bufio.NewWriterSize(f, 16*1024),
		path:   path,
		logger: logger,
	}, nil
}

// Append writes one audit event, stamping its id and timestamp. Errors
// are logged, not returned — an audit-write failure must not abort the
// run (§7 propagation policy: only configuration errors are fatal).
func (l *Log) Append(eventType string, details map[string]interface{}) {
	event := entity.AuditEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Details:   details,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal audit event", zap.String("type", eventType), zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		l.logger.Error("audit log write failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := l.writer.Flush(); err != nil {
		l.logger.Error("audit log flush failed", zap.Error(err))
	}
}

// Tail returns the last n audit events, oldest first, tolerating a
// truncated final line from a prior unclean shutdown.
func (l *Log) Tail(n int) ([]entity.AuditEvent, error) {
	l.mu.Lock()
	_ = l.writer.Flush()
	l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log for read: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var all []entity.AuditEvent
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event entity.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			l.logger.Warn("skipping corrupt audit log entry", zap.Error(err))
			continue
		}
		all = append(all, event)
	}
	if err := scanner.Err(); err != nil {
		return all, fmt.Errorf("audit log scan error: %w", err)
	}

	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.writer.Flush()
	return l.file.Close()
}
