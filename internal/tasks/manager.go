// Package tasks implements the Task Manager (spec 4.K): a single
// process-wide event loop hosting the HTTP entrypoint, broker consumers,
// and background fire-and-forget work, with supervised tasks so their
// errors are logged instead of silently vanishing. Blocking operations
// (git, resolver subprocess, local file I/O) are offloaded to a bounded
// worker pool via golang.org/x/sync/semaphore so they never starve the
// loop (spec §5: "Blocking operations ... run on a worker-thread
// off-loader").
package tasks

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Manager supervises background tasks and offloads blocking work to a
// bounded pool. It carries no state beyond what's explicit here, per
// spec §5/§9's "no hidden singletons" policy — callers own their Manager
// instance.
type Manager struct {
	log    *logrus.Entry
	sem    *semaphore.Weighted
	group  errgroup.Group
	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a Manager whose worker-offload pool admits at most
// maxConcurrentBlocking simultaneous blocking operations.
func New(maxConcurrentBlocking int64, log *logrus.Entry) *Manager {
	if maxConcurrentBlocking <= 0 {
		maxConcurrentBlocking = 8
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{log: log, sem: semaphore.NewWeighted(maxConcurrentBlocking)}
}

// InForeground awaits fn, returning its error directly to the caller —
// used for suspension points whose result the caller needs before
// proceeding (spec 4.K: "in_foreground awaits").
func (m *Manager) InForeground(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// InBackground schedules fn as a supervised background task (spec 4.K:
// "in_background schedules"). Its error, if any, is logged rather than
// propagated — callers that need the result must use InForeground or
// Offload instead.
func (m *Manager) InBackground(ctx context.Context, name string, fn func(ctx context.Context) error) {
	m.group.Go(func() error {
		if err := fn(ctx); err != nil {
			m.log.WithField("task", name).WithError(err).Error("background task failed")
		}
		return nil
	})
}

// Offload runs fn on the bounded worker pool, blocking the caller's
// goroutine until a slot is free and fn completes. Use this for git
// clones, resolver subprocess invocation, and other blocking I/O that
// must not run directly on the event loop's goroutine.
func (m *Manager) Offload(ctx context.Context, fn func() error) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)
	return fn()
}

// Wait blocks until every InBackground task has returned. Callers use
// this at shutdown to drain supervised work before exiting the loop.
func (m *Manager) Wait() error {
	return m.group.Wait()
}
