package models

import (
	"time"

	"github.com/google/uuid"
)

// Services a credential can be registered for.
const (
	CredentialServiceApify   = "apify"
	CredentialServiceYouTube = "youtube"
	CredentialServiceOpenAI  = "openai"
)

// ProviderCredential is a third-party API token a tenant registered through
// the dashboard. The scrape coordinator reads the tenant's apify credential
// to authenticate remote runs. Tokens are returned to the API redacted.
type ProviderCredential struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	Service   string    `db:"service"    json:"service"`
	Token     string    `db:"token"      json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
