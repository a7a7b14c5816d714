package cep

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/pkg/bus"
)

const defaultWorkflowTopic = "vsm.s2.coordinate"

// Publisher is the bus surface the workflow action needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, env bus.Envelope) error
}

// Notifier delivers a notify action to a named channel sink.
type Notifier interface {
	Notify(ctx context.Context, channel string, hook Hook, event Event) error
}

// Logger records a log action. Satisfied by *telemetry.Bus.Emit.
type Logger interface {
	Emit(eventName string, measurements map[string]float64, metadata map[string]any)
}

// CallbackFunc is a registered callback action handler. Panics are
// recovered by the engine so one bad callback can't take the engine
// down.
type CallbackFunc func(hook Hook, event Event) error

// Engine evaluates every enabled hook against each incoming event,
// serially per hook, and dispatches the configured action once a
// hook's threshold is satisfied.
type Engine struct {
	publisher Publisher
	notifier  Notifier
	logger    Logger

	mu    sync.RWMutex
	hooks map[string]*hookState

	callbackMu sync.RWMutex
	callbacks  map[string]CallbackFunc

	cron *cron.Cron
}

type hookState struct {
	mu     sync.Mutex
	hook   Hook
	window *windowState
}

// NewEngine creates an empty Engine. publisher/notifier/logger may be
// nil; an action whose backing dependency is nil is a no-op, logged as
// such rather than panicking.
func NewEngine(publisher Publisher, notifier Notifier, logger Logger) *Engine {
	return &Engine{
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		hooks:     make(map[string]*hookState),
		callbacks: make(map[string]CallbackFunc),
		cron:      cron.New(),
	}
}

// Start begins the periodic window-pruning ticks for every registered
// hook and must be called once after hooks are registered.
func (e *Engine) Start() {
	e.cron.Start()
}

// Stop halts the window-pruning cron, waiting for any in-flight tick.
func (e *Engine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
}

// RegisterCallback names a CallbackFunc an Action{Kind: ActionCallback}
// may reference.
func (e *Engine) RegisterCallback(name string, fn CallbackFunc) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.callbacks[name] = fn
}

// AddHook registers hook and starts its window-pruning cron tick.
func (e *Engine) AddHook(hook Hook) error {
	span := hook.Threshold.window()
	state := &hookState{hook: hook, window: newWindowState(span)}

	e.mu.Lock()
	e.hooks[hook.ID] = state
	e.mu.Unlock()

	interval := span
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	_, err := e.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		state.window.prune(time.Now().UTC())
	})
	if err != nil {
		return apierr.Internal("schedule hook window cleaner", err)
	}
	return nil
}

// RemoveHook deregisters a hook; its cron tick is left running (a no-op
// prune on an unreferenced window) since robfig/cron has no per-entry
// removal keyed by closure.
func (e *Engine) RemoveHook(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.hooks, id)
}

// Hook returns a snapshot of one hook's current state.
func (e *Engine) Hook(id string) (Hook, bool) {
	e.mu.RLock()
	state, ok := e.hooks[id]
	e.mu.RUnlock()
	if !ok {
		return Hook{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.hook, true
}

// Process evaluates event against every enabled hook. Each hook is
// locked independently, so one hook's processing never blocks another's:
// events are processed serially per hook, not globally.
func (e *Engine) Process(ctx context.Context, event Event) {
	e.mu.RLock()
	states := make([]*hookState, 0, len(e.hooks))
	for _, state := range e.hooks {
		states = append(states, state)
	}
	e.mu.RUnlock()

	for _, state := range states {
		e.processHook(ctx, state, event)
	}
}

func (e *Engine) processHook(ctx context.Context, state *hookState, event Event) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.hook.Enabled || !state.hook.matches(event) {
		return
	}

	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	state.window.record(event, now)
	count, ratePerMin := state.window.evaluate(now)

	threshold := state.hook.Threshold
	satisfied := (threshold.Count > 0 && count >= threshold.Count) ||
		(threshold.RatePerMin > 0 && ratePerMin >= threshold.RatePerMin)
	if !satisfied {
		return
	}

	state.window.clear()
	state.hook.TriggeredCount++
	state.hook.LastTriggered = now

	e.dispatch(ctx, state.hook, event)
}

func (e *Engine) dispatch(ctx context.Context, hook Hook, event Event) {
	switch hook.Action.Kind {
	case ActionWorkflow:
		e.dispatchWorkflow(ctx, hook, event)
	case ActionNotify:
		e.dispatchNotify(ctx, hook, event)
	case ActionLog:
		e.dispatchLog(hook, event)
	case ActionCallback:
		e.dispatchCallback(hook, event)
	default:
		log.Printf("cep: hook %q has unknown action kind %q", hook.ID, hook.Action.Kind)
	}
}

func (e *Engine) dispatchWorkflow(ctx context.Context, hook Hook, event Event) {
	if e.publisher == nil {
		log.Printf("cep: hook %q fired a workflow action with no publisher configured", hook.ID)
		return
	}
	topic := hook.Action.Topic
	if topic == "" {
		topic = defaultWorkflowTopic
	}
	tenantID, _ := event.Data["tenant_id"].(string)
	payload := map[string]any{"hook_id": hook.ID, "hook_name": hook.Name, "event": event}
	env, err := bus.New("cep.hook_triggered", tenantID, payload, "")
	if err != nil {
		log.Printf("cep: hook %q: build workflow envelope: %v", hook.ID, err)
		return
	}
	if err := e.publisher.Publish(ctx, topic, env); err != nil {
		log.Printf("cep: hook %q: publish workflow action: %v", hook.ID, err)
	}
}

func (e *Engine) dispatchNotify(ctx context.Context, hook Hook, event Event) {
	if e.notifier == nil {
		log.Printf("cep: hook %q fired a notify action with no notifier configured", hook.ID)
		return
	}
	if err := e.notifier.Notify(ctx, hook.Action.Channel, hook, event); err != nil {
		log.Printf("cep: hook %q: notify action: %v", hook.ID, err)
	}
}

func (e *Engine) dispatchLog(hook Hook, event Event) {
	if e.logger == nil {
		log.Printf("cep: hook %q triggered: %s", hook.ID, hook.Name)
		return
	}
	e.logger.Emit("cyb.cep."+hook.Name, map[string]float64{"triggered": 1}, map[string]any{
		"hook_id": hook.ID, "event_name": event.Name,
	})
}

func (e *Engine) dispatchCallback(hook Hook, event Event) {
	e.callbackMu.RLock()
	fn, ok := e.callbacks[hook.Action.Callback]
	e.callbackMu.RUnlock()
	if !ok {
		log.Printf("cep: hook %q references unregistered callback %q", hook.ID, hook.Action.Callback)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("cep: hook %q callback %q panicked: %v", hook.ID, hook.Action.Callback, r)
		}
	}()
	if err := fn(hook, event); err != nil {
		log.Printf("cep: hook %q callback %q returned error: %v", hook.ID, hook.Action.Callback, err)
	}
}
