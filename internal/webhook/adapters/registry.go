package adapters

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/smallbiznis/paysync/internal/webhook/domain"
)

// Registry holds the configured adapters in detection order.
type Registry struct {
	adapters []domain.Adapter
	byName   map[string]domain.Adapter
}

func NewRegistry(adapters ...domain.Adapter) *Registry {
	registry := &Registry{byName: map[string]domain.Adapter{}}
	for _, adapter := range adapters {
		registry.Register(adapter)
	}
	return registry
}

// Register appends adapter unless its provider is already registered.
func (r *Registry) Register(adapter domain.Adapter) {
	if adapter == nil {
		return
	}
	provider := normalize(adapter.Provider())
	if provider == "" {
		return
	}
	if _, exists := r.byName[provider]; exists {
		return
	}
	r.byName[provider] = adapter
	r.adapters = append(r.adapters, adapter)
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[normalize(provider)]
	return ok
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		out = append(out, normalize(adapter.Provider()))
	}
	return out
}

func (r *Registry) Adapter(provider string) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrUnknownProvider
	}
	adapter, ok := r.byName[normalize(provider)]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return adapter, nil
}

// Detect selects the adapter for a delivery. Distinguishing headers win;
// otherwise the body shape is sniffed, then provider-prefixed event names.
// Detection only picks the adapter: its signature check still runs.
func (r *Registry) Detect(headers http.Header, payload []byte) (domain.Adapter, error) {
	if r == nil || len(r.adapters) == 0 {
		return nil, domain.ErrUnknownProvider
	}

	for _, adapter := range r.adapters {
		if adapter.MatchHeaders(headers) {
			return adapter, nil
		}
	}

	var shape domain.BodyShape
	if err := json.Unmarshal(payload, &shape); err != nil {
		return nil, domain.ErrUnknownProvider
	}

	for _, adapter := range r.adapters {
		if adapter.MatchBody(shape) {
			return adapter, nil
		}
	}

	for _, adapter := range r.adapters {
		prefix := normalize(adapter.Provider()) + "."
		for _, name := range []string{shape.Type, shape.EventType, shape.Event} {
			if strings.HasPrefix(normalize(name), prefix) {
				return adapter, nil
			}
		}
	}

	return nil, domain.ErrUnknownProvider
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
