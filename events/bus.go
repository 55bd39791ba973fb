// Package events is the in-process bus that instrumentation subscribes to.
// Events are plain structs; subscribers are keyed by the event's type and
// are called synchronously, in subscription order, on the publishing
// goroutine.
package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

type handler struct {
	id uint64
	fn func(context.Context, interface{})
}

// Bus dispatches published events to the subscribers of their type.
type Bus struct {
	log *logrus.Entry

	mu       sync.RWMutex
	next     uint64
	handlers map[reflect.Type][]handler
}

// NewBus creates an empty bus. Panics in subscribers are recovered and
// logged on log at debug level.
func NewBus(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{log: log, handlers: map[reflect.Type][]handler{}}
}

func typeOf[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

// Subscribe calls fn for every E published on b until the returned
// function is called.
func Subscribe[E any](b *Bus, fn func(context.Context, E)) (unsubscribe func()) {
	t := typeOf[E]()
	b.mu.Lock()
	b.next++
	id := b.next
	b.handlers[t] = append(b.handlers[t], handler{
		id: id,
		fn: func(ctx context.Context, e interface{}) { fn(ctx, e.(E)) },
	})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[t]
			for i, h := range hs {
				if h.id == id {
					b.handlers[t] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to every subscriber of E. A subscriber that panics
// does not prevent delivery to the others.
func Publish[E any](ctx context.Context, b *Bus, e E) {
	if b == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.RLock()
	hs := b.handlers[typeOf[E]()]
	b.mu.RUnlock()
	if len(hs) == 0 {
		return
	}
	ctx = context.WithValue(ctx, dispatchKey{}, Depth(ctx)+1)
	for _, h := range hs {
		b.deliver(ctx, h, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h handler, e interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithContext(ctx).WithFields(logrus.Fields{
				"event": fmt.Sprintf("%T", e),
				"panic": r,
			}).Debug("Event subscriber panicked")
		}
	}()
	h.fn(ctx, e)
}

type dispatchKey struct{}

// MaxDepth bounds how deeply deliveries may nest through LogHook: a log
// entry made by a subscriber of a nested delivery is not published again.
const MaxDepth = 2

// Depth returns how many event deliveries ctx is nested in.
func Depth(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	v, _ := ctx.Value(dispatchKey{}).(int)
	return v
}
