package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for different models
const (
	PrefixEpisode = "ep_"
	PrefixToken   = "tok_"
	PrefixAudit   = "aud_"
)

// NewEpisode generates a new lock-episode ID with ep_ prefix
func NewEpisode() string {
	return PrefixEpisode + uuid.New().String()
}

// NewToken generates a new guardian owner-token ID with tok_ prefix
func NewToken() string {
	return PrefixToken + uuid.New().String()
}

// NewAudit generates a new audit-entry ID with aud_ prefix
func NewAudit() string {
	return PrefixAudit + uuid.New().String()
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
