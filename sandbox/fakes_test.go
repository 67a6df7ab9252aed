// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/dbsandbox/frontend"
	"github.com/bureau-foundation/dbsandbox/lib/clock"
	"github.com/bureau-foundation/dbsandbox/lib/config"
)

// eventLog records the order of observable side effects.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(event string) int {
	for index, recorded := range l.snapshot() {
		if recorded == event {
			return index
		}
	}
	return -1
}

type fakeProcess struct {
	pid      int
	done     chan struct{}
	exitOnce sync.Once
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitCode() int         { return 0 }

func (p *fakeProcess) exit() {
	p.exitOnce.Do(func() { close(p.done) })
}

// fakeEngine stands in for the PostgreSQL binaries.
type fakeEngine struct {
	initErr  error
	startErr error

	mu sync.Mutex
	// createFailures is the number of createdb calls per database that
	// fail before one succeeds.
	createFailures map[string]int
	createCalls    map[string]int
	created        map[string]bool
	process        *fakeProcess
}

func newFakeEngine(t *testing.T) *fakeEngine {
	engine := &fakeEngine{
		createFailures: make(map[string]int),
		createCalls:    make(map[string]int),
		created:        make(map[string]bool),
	}
	t.Cleanup(func() {
		engine.mu.Lock()
		process := engine.process
		engine.mu.Unlock()
		if process != nil {
			process.exit()
		}
	})
	return engine
}

func (f *fakeEngine) Init(ctx context.Context, dataDirectory string) error {
	return f.initErr
}

func (f *fakeEngine) Start(dataDirectory, socketDirectory string, output io.Writer) (ClusterProcess, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.process = &fakeProcess{pid: 4242, done: make(chan struct{})}
	return f.process, nil
}

func (f *fakeEngine) CreateDatabase(ctx context.Context, socketDirectory, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls[name]++
	attempt := f.createCalls[name]
	if attempt <= f.createFailures[name] {
		return fmt.Errorf("attempt %d: could not connect to server: No such file or directory", attempt)
	}
	if f.created[name] {
		return fmt.Errorf("database %q already exists", name)
	}
	f.created[name] = true
	return nil
}

func (f *fakeEngine) ConnectionString(socketDirectory, database string) string {
	return "host=" + socketDirectory + " dbname=" + database
}

func (f *fakeEngine) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls[name]
}

func (f *fakeEngine) running() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.process
}

// fakeFrontend is a front-end service whose lifecycle the test drives.
type fakeFrontend struct {
	config frontend.Config
	events *eventLog

	ready  chan struct{}
	failed chan struct{}
	err    error

	execErr error
	mu      sync.Mutex
	execs   []string

	// closeStarted receives the instance name when Close is entered.
	// closeGate, when non-nil, holds Close until it is closed.
	closeStarted chan string
	closeGate    chan struct{}
	closeOnce    sync.Once
	closed       chan struct{}
}

func (f *fakeFrontend) Ready() <-chan struct{}  { return f.ready }
func (f *fakeFrontend) Failed() <-chan struct{} { return f.failed }
func (f *fakeFrontend) Err() error              { return f.err }

func (f *fakeFrontend) Exec(ctx context.Context, sql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return f.execErr
}

func (f *fakeFrontend) Close(ctx context.Context) error {
	if f.closeStarted != nil {
		f.closeStarted <- f.config.Name
	}
	if f.closeGate != nil {
		<-f.closeGate
	}
	f.closeOnce.Do(func() {
		f.events.record("close " + f.config.Name)
		close(f.closed)
	})
	return nil
}

func (f *fakeFrontend) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.execs...)
}

// fakeFrontends is a FrontendStarter that records every instance.
type fakeFrontends struct {
	events *eventLog

	// onStart decides each instance's outcome. Nil makes it ready
	// immediately.
	onStart func(*fakeFrontend)

	mu      sync.Mutex
	started []*fakeFrontend
}

func (f *fakeFrontends) start(ctx context.Context, config frontend.Config) Frontend {
	instance := &fakeFrontend{
		config: config,
		events: f.events,
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
		closed: make(chan struct{}),
	}
	f.mu.Lock()
	f.started = append(f.started, instance)
	onStart := f.onStart
	f.mu.Unlock()

	if onStart != nil {
		onStart(instance)
	} else {
		close(instance.ready)
	}
	return instance
}

func (f *fakeFrontends) all() []*fakeFrontend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeFrontend(nil), f.started...)
}

// harness wires a Sandbox to fakes and counts side effects.
type harness struct {
	engine    *fakeEngine
	frontends *fakeFrontends
	clock     *clock.FakeClock
	events    *eventLog

	cleanups atomic.Int32
	kills    atomic.Int32
	nextPort atomic.Int32
}

func newHarness(t *testing.T) *harness {
	events := &eventLog{}
	return &harness{
		engine:    newFakeEngine(t),
		frontends: &fakeFrontends{events: events},
		clock:     clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		events:    events,
	}
}

func (h *harness) newSandbox(t *testing.T) *Sandbox {
	t.Helper()
	base := t.TempDir()
	s, err := New(Config{
		BaseDirectory: base,
		Cleanup: func() error {
			h.cleanups.Add(1)
			h.events.record("cleanup")
			return os.RemoveAll(base)
		},
		Engine:        h.engine,
		StartFrontend: h.frontends.start,
		KillGroup: func() error {
			h.kills.Add(1)
			h.events.record("kill")
			return nil
		},
		Clock:    h.clock,
		Settings: config.Default().Sandbox,
		Frontend: config.Default().Frontend,
		PickPort: func(min, max int) int {
			return min + int(h.nextPort.Add(1))
		},
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func (h *harness) started(t *testing.T) *Sandbox {
	t.Helper()
	s := h.newSandbox(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}
