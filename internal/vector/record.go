package vector

import "time"

// Storage formats for the vector payload.
const (
	// FormatBinary is the fixed-width little-endian float32 encoding.
	FormatBinary = "binary"

	// FormatJSON is the legacy text encoding kept for migration.
	FormatJSON = "json"
)

// Vector sources recorded on metadata.
const (
	// SourceProvider marks a vector produced by a provider call.
	SourceProvider = "provider"

	// SourceCache marks a vector served from the semantic cache.
	// Cache attribution is advisory: the provider field then names the
	// provider that originally produced the cached vector.
	SourceCache = "cache"
)

// Metadata describes a stored vector record.
type Metadata struct {
	ID             string    `json:"id"`
	Tenant         string    `json:"tenant"`
	Dimensionality int       `json:"dimensionality"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model,omitempty"`
	StorageFormat  string    `json:"storage_format"`
	Source         string    `json:"source,omitempty"`
	Importance     float64   `json:"importance,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Record is a stored vector with its metadata. At most one record
// exists per (tenant, content id); overwrites replace in place.
type Record struct {
	Metadata
	Vector []float32 `json:"vector"`
}

// legacyRecord is the pre-binary JSON representation, kept only so
// MigrateLegacy can read it.
type legacyRecord struct {
	ID        string    `json:"id"`
	Vector    []float64 `json:"vector"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
