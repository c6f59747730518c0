package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentInfo identifies an activated local machine. Keys are base64 encoded ed25519 keys
type AgentInfo struct {
	MachineID      uuid.UUID `db:"machineid"`
	FacilityID     uuid.UUID `db:"facilityid"`
	FacilityCode   string    `db:"facilitycode"`
	PublicKey      string    `db:"publickey"`
	PrivateKey     string    `db:"privatekey"`
	ActivationCode string    `db:"activationcode"`
	ActivatedAt    time.Time `db:"activatedat"`
}
