package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoContent is returned when a file exists but could not be read after
// every attempt, typically because another process holds it open.
var ErrNoContent = errors.New("no content")

// Reader reads source files, retrying transient failures.
type Reader struct {
	Attempts int
	Interval time.Duration
	ReadFile func(name string) ([]byte, error)
	Logger   logrus.FieldLogger
}

// NewReader returns a Reader with the given retry policy.
func NewReader(attempts int, interval time.Duration, logger logrus.FieldLogger) *Reader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reader{
		Attempts: attempts,
		Interval: interval,
		ReadFile: os.ReadFile,
		Logger:   logger,
	}
}

// DefaultReader tries five times, 100ms apart.
func DefaultReader(logger logrus.FieldLogger) *Reader {
	return NewReader(5, 100*time.Millisecond, logger)
}

// Read returns the file content. A missing file is reported at once with an
// error matching fs.ErrNotExist; any other failure is retried and, once the
// attempts run out, reported as ErrNoContent.
func (r *Reader) Read(ctx context.Context, path string) (string, error) {
	readFile := r.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := readFile(path)
		if err == nil {
			return string(data), nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		lastErr = err
		r.Logger.WithField("path", path).WithError(err).Debugf("read attempt %d/%d failed", i+1, attempts)
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.Interval):
		}
	}
	return "", fmt.Errorf("%w: %s: %w", ErrNoContent, path, lastErr)
}
