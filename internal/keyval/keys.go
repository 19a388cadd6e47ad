package keyval

import (
	"fmt"
	"strconv"
	"strings"
)

// Logical key layout. Keys are store-agnostic: segments are joined with
// ':' and individual backends may remap the separator (see Bucket).
//
//	{tenant}:vectors:{content_id}          binary vector payload
//	{tenant}:vectors:meta:{content_id}     record metadata (JSON)
//	{tenant}:vectors:json:{content_id}     legacy JSON-encoded record
//	{tenant}:cache:{fingerprint}           semantic cache entry
//	{tenant}:retry:{scheduled_ts}:{content_id}
//	{tenant}:deadletter:{content_id}
//	{tenant}:recover:{content_id}          pending recovery item
//
// Content ids and tenants must not contain ':'.

// VectorKey returns the key holding the binary vector payload.
func VectorKey(tenant, contentID string) string {
	return tenant + ":vectors:" + contentID
}

// VectorMetaKey returns the key holding the record metadata.
func VectorMetaKey(tenant, contentID string) string {
	return tenant + ":vectors:meta:" + contentID
}

// LegacyVectorKey returns the key holding the legacy JSON record.
func LegacyVectorKey(tenant, contentID string) string {
	return tenant + ":vectors:json:" + contentID
}

// VectorMetaPrefix returns the listing prefix for record metadata.
// Metadata keys are the canonical index of stored vectors.
func VectorMetaPrefix(tenant string) string {
	return tenant + ":vectors:meta:"
}

// LegacyVectorPrefix returns the listing prefix for legacy records.
func LegacyVectorPrefix(tenant string) string {
	return tenant + ":vectors:json:"
}

// CacheKey returns the key holding a semantic cache entry.
func CacheKey(tenant, fingerprint string) string {
	return tenant + ":cache:" + fingerprint
}

// RetryKey returns the key holding a retry envelope. The scheduled
// timestamp is zero-padded so lexical key order matches time order.
func RetryKey(tenant string, scheduledUnix int64, contentID string) string {
	return fmt.Sprintf("%s:retry:%020d:%s", tenant, scheduledUnix, contentID)
}

// RetryPrefix returns the listing prefix for retry envelopes.
func RetryPrefix(tenant string) string {
	return tenant + ":retry:"
}

// ParseRetryKey extracts the scheduled timestamp and content id from a
// retry key.
func ParseRetryKey(key string) (scheduledUnix int64, contentID string, err error) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[1] != "retry" {
		return 0, "", fmt.Errorf("malformed retry key: %q", key)
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed retry key timestamp: %q", key)
	}
	return ts, parts[3], nil
}

// DeadLetterKey returns the key holding a dead-letter record.
func DeadLetterKey(tenant, contentID string) string {
	return tenant + ":deadletter:" + contentID
}

// DeadLetterPrefix returns the listing prefix for dead-letter records.
func DeadLetterPrefix(tenant string) string {
	return tenant + ":deadletter:"
}

// RecoveryKey returns the key holding a pending recovery item.
func RecoveryKey(tenant, contentID string) string {
	return tenant + ":recover:" + contentID
}

// RecoveryPrefix returns the listing prefix for pending recovery items.
func RecoveryPrefix(tenant string) string {
	return tenant + ":recover:"
}

// Tenant extracts the tenant segment from any logical key.
func Tenant(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return ""
}

// Suffix strips a listing prefix from a key, returning the trailing
// segment (content id or fingerprint).
func Suffix(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}
