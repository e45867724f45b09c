package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func ProfileKey(tenantID uuid.UUID, username string) string {
	return fmt.Sprintf("profile:%s:%s", tenantID, username)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
