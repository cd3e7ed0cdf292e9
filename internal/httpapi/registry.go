package httpapi

import (
	"fmt"
	"sync"

	"github.com/lakesync/lakesync/internal/gateway"
)

// binding pairs one gateway with the JWT secret and broadcast fan-out
// its routes are served under.
type binding struct {
	gw     *gateway.Gateway
	secret []byte
	bcast  *broadcaster
}

// Registry maps gatewayId path segments to the Gateway instance and
// JWT secret serving them. One process may host multiple gateways.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*binding
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]*binding)}
}

// Register binds gw under gatewayID, authenticated with secret. Calling
// Register again for the same gatewayID replaces the binding but keeps
// existing watch subscribers attached to the same broadcaster.
func (r *Registry) Register(gatewayID string, gw *gateway.Gateway, secret []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bindings[gatewayID]; ok {
		existing.gw = gw
		existing.secret = secret
		return
	}

	r.bindings[gatewayID] = &binding{gw: gw, secret: secret, bcast: newBroadcaster()}
}

func (r *Registry) get(gatewayID string) (*binding, error) {
	r.mu.RLock()
	b, ok := r.bindings[gatewayID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("httpapi: unknown gateway %q", gatewayID)
	}

	return b, nil
}
