// Package correlation generates and propagates the per-migration trace
// identifier. An ID is minted exactly once, at the true origin of a
// migration (ingress); every downstream step reuses the extracted value.
package correlation

import (
	"github.com/google/uuid"

	migration "github.com/girishfury/migration"
)

// HeaderName is the transport header carrying a correlation ID on inbound
// HTTP-shaped events and on outbound callback requests.
const HeaderName = "X-Correlation-ID"

// idPrefix marks IDs minted by this system.
const idPrefix = "mig-"

// NewID returns a fresh correlation ID: the recognizable prefix plus the
// first eight hex characters of a random UUID (32 bits of entropy).
func NewID() string {
	return idPrefix + uuid.NewString()[:8]
}

// Extract returns the correlation ID carried by ev, looking in priority
// order at the event-level field, the nested detail field, and the transport
// header. When none is present it mints a new ID.
func Extract(ev migration.Event) string {
	if ev.CorrelationID != "" {
		return ev.CorrelationID
	}
	if ev.Detail != nil {
		// Ingress injects at correlation_id; published events carry
		// correlationId. Accept either nested spelling.
		for _, key := range []string{"correlation_id", "correlationId"} {
			if id, ok := ev.Detail[key].(string); ok && id != "" {
				return id
			}
		}
	}
	if id := ev.Headers[HeaderName]; id != "" {
		return id
	}
	return NewID()
}

// Inject returns ev with id set at the canonical nested detail location.
func Inject(ev migration.Event, id string) migration.Event {
	if ev.Detail == nil {
		ev.Detail = make(map[string]any, 1)
	}
	ev.Detail["correlation_id"] = id
	return ev
}
