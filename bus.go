package parksapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Event kinds broadcast by the processor loop.
const (
	EventRequest  = "request"
	EventResponse = "response"
	EventError    = "error"
)

// Event is the record handed to injection handlers. Handlers may mutate
// Request and Response in place (header/auth injection, response rewriting).
type Event struct {
	Type       string
	Request    *Request
	Response   *Response
	Err        error
	ClassName  string
	MethodName string
	TraceID    string
}

// Field exposes named event fields to filter predicates.
func (ev *Event) Field(name string) (interface{}, bool) {
	switch name {
	case "type":
		return ev.Type, true
	case "className":
		return ev.ClassName, true
	case "methodName":
		return ev.MethodName, true
	case "traceId":
		return ev.TraceID, true
	case "error":
		if ev.Err == nil {
			return "", true
		}
		return ev.Err.Error(), true
	}

	if ev.Request != nil {
		switch name {
		case "method":
			return ev.Request.Method, true
		case "url":
			return ev.Request.URL, true
		case "hostname":
			return ev.Request.Hostname(), true
		case "path":
			if u, err := url.Parse(ev.Request.URL); err == nil {
				return u.Path, true
			}
			return "", true
		case "tags":
			return ev.Request.Tags, true
		}
		if header, found := strings.CutPrefix(name, "header."); found {
			return ev.Request.Headers.Get(header), true
		}
	}

	if ev.Response != nil {
		switch name {
		case "status":
			return ev.Response.StatusCode, true
		case "cacheHit":
			return ev.Response.FromCache, true
		}
	}

	return nil, false
}

// Handler is a free injection handler.
type Handler func(ctx context.Context, ev *Event) error

// BoundHandler is an instance-method handler; owner is the registered
// instance the dispatch is bound to.
type BoundHandler func(ctx context.Context, owner interface{}, ev *Event) error

type registration struct {
	filter   Filter
	priority int
	handler  Handler
	bound    BoundHandler
	typeName string
}

// Bus is the injection/broadcast mechanism. Handlers register once at setup
// time with a declarative filter and a priority; instances participate in
// process-wide broadcasts only once registered via RegisterInstance.
type Bus struct {
	mu        sync.RWMutex
	regs      []registration
	instances []interface{}
	logger    Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds a free handler. Lower priority runs earlier; the default
// priority is 0. Handlers sharing a priority run concurrently with no
// ordering guarantee among them.
func (b *Bus) Register(filter Filter, handler Handler, priority int) {
	if filter == nil {
		filter = Any{}
	}
	b.mu.Lock()
	b.regs = append(b.regs, registration{filter: filter, priority: priority, handler: handler})
	b.mu.Unlock()
}

// RegisterForType adds a handler associated with an owning type. At dispatch
// time it runs once per registered instance of that type, with the instance
// bound as owner (both for filter resolvers and for the handler itself).
func (b *Bus) RegisterForType(typeName string, filter Filter, handler BoundHandler, priority int) {
	if filter == nil {
		filter = Any{}
	}
	b.mu.Lock()
	b.regs = append(b.regs, registration{filter: filter, priority: priority, bound: handler, typeName: typeName})
	b.mu.Unlock()
}

// RegisterInstance opts an instance's type-associated handlers into
// process-wide broadcasts. Registering the same instance twice is a no-op.
func (b *Bus) RegisterInstance(instance interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.instances {
		if existing == instance {
			return
		}
	}
	b.instances = append(b.instances, instance)
}

// Instances returns the registered instance set.
func (b *Bus) Instances() []interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]interface{}, len(b.instances))
	copy(out, b.instances)
	return out
}

// Clear removes all registrations and instances. Tests rely on this for
// isolation between cases.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.regs = nil
	b.instances = nil
	b.mu.Unlock()
}

// Broadcast dispatches the event to all free handlers and to every
// registered instance's handlers. Handler errors are collected and returned
// joined; an error from one handler never prevents its same-priority peers
// from running.
func (b *Bus) Broadcast(ctx context.Context, ev *Event) error {
	return b.dispatch(ctx, b.Instances(), ev)
}

// BroadcastTo dispatches the event to free handlers and to the supplied
// instances only, whether or not they are registered process-wide.
func (b *Bus) BroadcastTo(ctx context.Context, instances []interface{}, ev *Event) error {
	return b.dispatch(ctx, instances, ev)
}

// dispatchUnit is one concrete handler invocation: a free handler, or a
// bound handler paired with one owning instance.
type dispatchUnit struct {
	reg   registration
	owner interface{}
}

func (b *Bus) dispatch(ctx context.Context, instances []interface{}, ev *Event) error {
	b.mu.RLock()
	regs := make([]registration, len(b.regs))
	copy(regs, b.regs)
	b.mu.RUnlock()

	groups := make(map[int][]dispatchUnit)
	var priorities []int
	add := func(u dispatchUnit) {
		p := u.reg.priority
		if _, seen := groups[p]; !seen {
			priorities = append(priorities, p)
		}
		groups[p] = append(groups[p], u)
	}

	for _, reg := range regs {
		if reg.handler != nil {
			add(dispatchUnit{reg: reg})
			continue
		}
		for _, instance := range instances {
			if typeNameOf(instance) == reg.typeName {
				add(dispatchUnit{reg: reg, owner: instance})
			}
		}
	}
	sort.Ints(priorities)

	var errs []error
	for _, p := range priorities {
		units := groups[p]

		var wg sync.WaitGroup
		groupErrs := make([]error, len(units))
		for i, unit := range units {
			wg.Add(1)
			go func(i int, unit dispatchUnit) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						groupErrs[i] = fmt.Errorf("handler panic: %v", r)
					}
				}()
				groupErrs[i] = b.runUnit(ctx, unit, ev)
			}(i, unit)
		}
		wg.Wait()

		for _, err := range groupErrs {
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (b *Bus) runUnit(ctx context.Context, unit dispatchUnit, ev *Event) error {
	matched, err := unit.reg.filter.Match(ctx, ev, unit.owner)
	if err != nil {
		return fmt.Errorf("filter evaluation: %w", err)
	}
	if !matched {
		return nil
	}
	if unit.reg.handler != nil {
		return unit.reg.handler(ctx, ev)
	}
	return unit.reg.bound(ctx, unit.owner, ev)
}

// typeNameOf yields the owning-type name used for class-level registration,
// without the pointer marker or package path.
func typeNameOf(v interface{}) string {
	name := fmt.Sprintf("%T", v)
	name = strings.TrimPrefix(name, "*")
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
