// Package registry maps vehicle tokens from the trace onto dense handles and
// holds each vehicle's current position and speed.
package registry

import (
	"github.com/iti/v2xsim/internal/trace"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/spatial/r2"
)

// Handle is a dense vehicle identifier in [0, Len()).
type Handle int32

// VehicleState is the live state of one vehicle.
type VehicleState struct {
	Position r2.Vec
	Speed    float64
}

// Registry owns the token/handle bijection and the state table.  The handle
// space is fixed at construction.
type Registry struct {
	tokens  []string
	handles map[string]Handle
	states  []VehicleState
}

// New builds the registry from every distinct token in samples.  Handles are
// assigned in lexicographic token order so that the same trace always yields
// the same mapping.  All states start at the origin with zero speed.
func New(samples []trace.Sample) *Registry {
	seen := make(map[string]bool)
	tokens := []string{}
	for _, s := range samples {
		if !seen[s.Token] {
			seen[s.Token] = true
			tokens = append(tokens, s.Token)
		}
	}
	slices.Sort(tokens)

	reg := &Registry{
		tokens:  tokens,
		handles: make(map[string]Handle, len(tokens)),
		states:  make([]VehicleState, len(tokens)),
	}
	for idx, token := range tokens {
		reg.handles[token] = Handle(idx)
	}
	return reg
}

// Len is the number of vehicles.
func (reg *Registry) Len() int {
	return len(reg.tokens)
}

// Handle looks up the handle for token.
func (reg *Registry) Handle(token string) (Handle, bool) {
	h, present := reg.handles[token]
	return h, present
}

// Token is the inverse of Handle.
func (reg *Registry) Token(h Handle) string {
	return reg.tokens[h]
}

// Tokens returns the tokens in handle order.
func (reg *Registry) Tokens() []string {
	return slices.Clone(reg.tokens)
}

// Handles returns every handle in increasing order.
func (reg *Registry) Handles() []Handle {
	hs := make([]Handle, len(reg.tokens))
	for idx := range hs {
		hs[idx] = Handle(idx)
	}
	return hs
}

// State returns the current state of h.
func (reg *Registry) State(h Handle) VehicleState {
	return reg.states[h]
}

// SetState overwrites the state of h.
func (reg *Registry) SetState(h Handle, s VehicleState) {
	reg.states[h] = s
}

// Position serves the registry as the network's position store, with node
// numbers equal to handles.
func (reg *Registry) Position(node int) r2.Vec {
	return reg.states[node].Position
}
