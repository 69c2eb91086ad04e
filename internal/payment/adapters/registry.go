package adapters

import (
	"strings"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

// Entry binds one provider's adapter, verifier, and merchant
// credentials.
type Entry struct {
	Adapter     domain.Adapter
	Verifier    domain.Verifier
	Credentials domain.Credentials
}

// Registry resolves providers by name. Disabled providers stay
// registered so callers can distinguish "unknown" from "turned off".
type Registry struct {
	entries map[string]Entry
}

func NewRegistry(entries ...Entry) *Registry {
	reg := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Adapter == nil {
			continue
		}
		reg.entries[e.Adapter.Provider()] = e
	}
	return reg
}

func (r *Registry) Resolve(provider string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	entry, ok := r.entries[strings.ToLower(strings.TrimSpace(provider))]
	return entry, ok
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
