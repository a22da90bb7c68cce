// Package service implements the run engine: thread and message operations,
// the run state machine, tool-call suspension and expiry.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/stream"
	"github.com/xiaot623/gogo/assistant/policy"
)

// ToolPolicy decides whether a model-requested function call may be issued.
type ToolPolicy interface {
	Evaluate(ctx context.Context, input policy.Input) (decision string, reason string, err error)
}

type Service struct {
	store        store.Store
	backend      llm.Backend
	policyEngine ToolPolicy
	streamer     *stream.Streamer
	config       *config.Config
	logger       *slog.Logger
	now          func() time.Time

	runLocks keyedMutex

	// baseCtx parents every processing goroutine; Close cancels it.
	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*inflightRun
}

// inflightRun is the cancel handle of a processing goroutine.
type inflightRun struct {
	cancel context.CancelFunc
}

func New(store store.Store, backend llm.Backend, policyEngine ToolPolicy, streamer *stream.Streamer, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, shutdown := context.WithCancel(context.Background())
	return &Service{
		store:        store,
		backend:      backend,
		policyEngine: policyEngine,
		streamer:     streamer,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
		baseCtx:      baseCtx,
		shutdown:     shutdown,
		inflight:     make(map[string]*inflightRun),
	}
}

// Close stops in-flight processing and waits for it to unwind. Runs left
// in_progress are failed by Recover on the next start.
func (s *Service) Close() {
	s.shutdown()
	s.wg.Wait()
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

func newID(prefix string) string {
	return prefix + uuid.NewString()
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function. The
// release function may be called from another goroutine, exactly once.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

func (s *Service) setInflight(runID string, cancel context.CancelFunc) *inflightRun {
	h := &inflightRun{cancel: cancel}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[runID] = h
	return h
}

// clearInflight drops h unless a newer goroutine already replaced it.
func (s *Service) clearInflight(runID string, h *inflightRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[runID] == h {
		delete(s.inflight, runID)
	}
}

// interrupt cancels the run's in-flight processing, if any.
func (s *Service) interrupt(runID string) {
	s.mu.Lock()
	h, ok := s.inflight[runID]
	s.mu.Unlock()
	if ok {
		h.cancel()
	}
}
