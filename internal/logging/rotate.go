package logging

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// rotatingSink reopens Path whenever the rotation boundary (hour or day,
// UTC) is crossed between writes. Rotation never deletes the previous
// file: it is left for an external log-shipper to pick up, matching the
// "never touch files we didn't just write" posture the rest of the repo
// takes with archive partitions.
type rotatingSink struct {
	mu       sync.Mutex
	path     string
	rotation Rotation
	f        *os.File
	bucket   string
}

func newRotatingSink(path string, r Rotation) (zapcore.WriteSyncer, error) {
	s := &rotatingSink{path: path, rotation: r}
	if err := s.open(time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *rotatingSink) bucketFor(t time.Time) string {
	switch s.rotation {
	case RotationHourly:
		return t.UTC().Format("2006010215")
	case RotationDaily:
		return t.UTC().Format("20060102")
	default:
		return ""
	}
}

func (s *rotatingSink) open(now time.Time) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if s.f != nil {
		s.f.Close()
	}
	s.f = f
	s.bucket = s.bucketFor(now)
	return nil
}

func (s *rotatingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rotation != RotationNever {
		now := time.Now()
		if s.bucketFor(now) != s.bucket {
			if err := s.open(now); err != nil {
				return 0, err
			}
		}
	}
	return s.f.Write(p)
}

func (s *rotatingSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Sync()
}
