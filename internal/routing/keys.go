package routing

import (
	"fmt"
	"strings"

	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/google/uuid"
)

// Exchange is the durable topic exchange every node publishes to
const Exchange = "siglus.sync"

// RoutingKey addresses an outbox entry: facility.<receiver>.<category> or broadcast.<category>
func RoutingKey(e models.OutboxEntry) string {
	category := strings.ToLower(e.Category)
	if e.IsBroadcast() {
		return "broadcast." + category
	}
	return fmt.Sprintf("facility.%s.%s", e.ReceiverFacilityID, category)
}

// FacilityBindings are the keys a facility queue binds to
func FacilityBindings(facilityID uuid.UUID) []string {
	return []string{fmt.Sprintf("facility.%s.#", facilityID), "broadcast.#"}
}

// FacilityQueue names the queue consumed by one facility node
func FacilityQueue(facilityID uuid.UUID) string {
	return "siglus.sync.facility." + facilityID.String()
}
