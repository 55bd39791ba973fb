package events

import (
	"context"
	"sync"
)

type principalKey struct{}

type principalSlot struct {
	mu sync.Mutex
	id string
}

// ContextWithPrincipalSlot returns a context in which code further down
// the request can record who is acting, for the RequestHandled event.
func ContextWithPrincipalSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, principalKey{}, &principalSlot{})
}

// SetPrincipal records the acting principal of the request owning ctx. It
// reports false if ctx has no slot.
func SetPrincipal(ctx context.Context, id string) bool {
	slot, ok := ctx.Value(principalKey{}).(*principalSlot)
	if !ok {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.id = id
	return true
}

// Principal returns the principal recorded with SetPrincipal, if any.
func Principal(ctx context.Context) (string, bool) {
	slot, ok := ctx.Value(principalKey{}).(*principalSlot)
	if !ok {
		return "", false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.id, slot.id != ""
}
