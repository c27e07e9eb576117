package reports

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultAutosaveInterval = 15 * time.Second

// Session keeps an open editor's payload saved on a fixed cadence. Autosave
// failures are logged and retried on the next tick; only explicit saves
// return errors.
type Session struct {
	client   *Client
	reportID string
	interval time.Duration
	log      logrus.FieldLogger

	mu          sync.Mutex
	payload     Payload
	dirty       bool
	lastSavedAt time.Time

	saveMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SessionOption func(*Session)

func WithAutosaveInterval(interval time.Duration) SessionOption {
	return func(s *Session) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithLogger(log logrus.FieldLogger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// StartAutosave begins an editing session for the report. The loop stops on
// Close, when ctx ends, or once the report is no longer editable.
func (c *Client) StartAutosave(ctx context.Context, reportID string, initial Payload, opts ...SessionOption) *Session {
	s := &Session{
		client:   c,
		reportID: reportID,
		interval: DefaultAutosaveInterval,
		log:      logrus.StandardLogger(),
		payload:  initial,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(logrus.Fields{"component": "autosave", "report_id": reportID})

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(loopCtx)
	return s
}

// Update replaces the pending payload. It is saved on the next tick.
func (s *Session) Update(payload Payload) {
	s.mu.Lock()
	s.payload = payload
	s.dirty = true
	s.mu.Unlock()
}

// SaveNow saves the current payload immediately.
func (s *Session) SaveNow(ctx context.Context) (time.Time, error) {
	return s.save(ctx)
}

func (s *Session) LastSavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSavedAt
}

// Close stops the autosave loop and waits for it to exit.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			dirty := s.dirty
			s.mu.Unlock()
			if !dirty {
				continue
			}
			_, err := s.save(ctx)
			switch {
			case err == nil:
			case IsNotEditable(err):
				s.log.Info("report no longer editable; autosave stopped")
				return
			case ctx.Err() != nil:
				return
			default:
				s.log.WithError(err).Warn("autosave failed")
			}
		}
	}
}

func (s *Session) save(ctx context.Context) (time.Time, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	payload := s.payload
	s.dirty = false
	s.mu.Unlock()

	savedAt, err := s.client.Save(ctx, s.reportID, payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.dirty = true
		return time.Time{}, err
	}
	s.lastSavedAt = savedAt
	return savedAt, nil
}
