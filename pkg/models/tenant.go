package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents one dashboard account. Every job, profile, and stored
// credential is scoped to a tenant at the data-access layer.
type Tenant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
