package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/engramhq/engram/internal/observability"
	"github.com/engramhq/engram/pkg/memory"
)

// DefaultLockTimeout bounds how long a capture waits for the lock before
// giving up with a typed, retryable error.
const DefaultLockTimeout = 10 * time.Second

const lockRetryInterval = 50 * time.Millisecond

// Lock is the single named mutual-exclusion resource guarding the capture
// path across process boundaries. It is an OS advisory lock; a crashed
// holder releases it automatically.
type Lock struct {
	fl      *flock.Flock
	path    string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewLock creates a lock backed by the given file path.
func NewLock(path string, timeout time.Duration, logger zerolog.Logger) *Lock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Lock{
		fl:      flock.New(path),
		path:    path,
		timeout: timeout,
		logger:  logger,
	}
}

// Acquire blocks until the lock is held or the bounded wait elapses. On
// timeout it returns a capture-category error wrapping ErrLockTimeout. The
// returned release function is safe to call on every exit path.
func (l *Lock) Acquire(ctx context.Context) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	locked, err := l.fl.TryLockContext(waitCtx, lockRetryInterval)
	observability.RecordLockWait(time.Since(start))

	if err != nil || !locked {
		return nil, memory.NewCaptureError("capture.lock",
			fmt.Sprintf("another capture is in progress; wait and retry, or remove %s.owner if the holder crashed", l.path),
			memory.ErrLockTimeout)
	}

	l.writeOwner()
	l.logger.Debug().Str("path", l.path).Dur("wait", time.Since(start)).Msg("Capture lock acquired")

	return func() {
		os.Remove(l.path + ".owner")
		if err := l.fl.Unlock(); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to release capture lock")
		}
	}, nil
}

// writeOwner records who holds the lock so a stuck lock is diagnosable.
// Best effort; the advisory lock is what actually excludes writers.
func (l *Lock) writeOwner() {
	token, err := gonanoid.New()
	if err != nil {
		return
	}
	info := fmt.Sprintf("pid=%d token=%s acquired=%s\n", os.Getpid(), token, time.Now().UTC().Format(time.RFC3339))
	_ = os.WriteFile(l.path+".owner", []byte(info), 0o644)
}
