package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-connectors/core"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeExecutable struct {
	log           *eventLog
	path          string
	activateErr   error
	deactivateErr error
	onActivate    func(sub core.InboundSubscription)
	label         string
}

func (e *fakeExecutable) Activate(_ context.Context, sub core.InboundSubscription) error {
	e.label = fmt.Sprintf("%s/v%d/%s", sub.Definition.ProcessID, sub.Definition.Version, sub.Point.ElementID)
	if e.onActivate != nil {
		e.onActivate(sub)
	}
	if e.activateErr != nil {
		return e.activateErr
	}
	e.log.add("activate " + e.label)
	return nil
}

func (e *fakeExecutable) Deactivate(context.Context) error {
	e.log.add("deactivate " + e.label)
	return e.deactivateErr
}

func (e *fakeExecutable) ContextPath() string {
	return e.path
}

type fakeBuilder struct {
	log           *eventLog
	failOn        map[string]error
	deactivateErr error
	onActivate    func(sub core.InboundSubscription)
	built         int
}

func (b *fakeBuilder) Build(cfg core.SubscriptionConfig) (core.Executable, error) {
	path := cfg.Text("inbound.context")
	if err := b.failOn[path]; err != nil {
		return nil, err
	}
	b.built++
	return &fakeExecutable{log: b.log, path: path, onActivate: b.onActivate, deactivateErr: b.deactivateErr}, nil
}

type fakeExtractor struct {
	points map[int64][]core.PointConfig
	err    map[int64]error
}

func (f fakeExtractor) Extract(_ context.Context, ref core.ProcessDefinitionRef) ([]core.PointConfig, error) {
	if err := f.err[ref.DefinitionKey]; err != nil {
		return nil, err
	}
	return f.points[ref.DefinitionKey], nil
}

func webhookPoint(elementID, contextPath string) core.PointConfig {
	return core.PointConfig{
		Point:  core.StartEventPoint(elementID),
		Config: core.NewSubscriptionConfig("webhook", map[string]string{"inbound.context": contextPath}),
	}
}

func newTestManager(extractor fakeExtractor, builder *fakeBuilder) *Manager {
	manager, err := NewManager(NewRegistry(), extractor, builder)
	if err != nil {
		panic(err)
	}
	return manager
}

var errBoom = errors.New("boom")

type errorLog struct {
	mu       sync.Mutex
	messages []string
}

func (l *errorLog) Trace(string, ...any) {}
func (l *errorLog) Debug(string, ...any) {}
func (l *errorLog) Info(string, ...any)  {}
func (l *errorLog) Warn(string, ...any)  {}
func (l *errorLog) Fatal(string, ...any) {}

func (l *errorLog) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *errorLog) WithContext(context.Context) core.Logger { return l }

func (l *errorLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}
