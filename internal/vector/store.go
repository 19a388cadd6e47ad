package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/keyval"
)

var (
	// ErrNotFound is returned when no record exists for a content id.
	ErrNotFound = errors.New("vector record not found")

	// ErrInvalidRecord indicates a record missing required fields.
	ErrInvalidRecord = errors.New("invalid vector record")
)

// Store persists vector records in the key-value backend, with an
// optional best-effort mirror to an external vector database.
//
// Writes are idempotent overwrites keyed by (tenant, content id). The
// data key is written before the metadata key; readers resolve metadata
// first, so a reader never observes metadata that points at a missing
// payload. There is no multi-key transaction: a crash between the two
// puts leaves an orphaned payload that the next overwrite repairs.
type Store struct {
	kv     keyval.Store
	mirror *Mirror
	logger *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMirror attaches an external vector database mirror. Mirror
// failures are logged and never propagated; the pipeline does not
// depend on the mirror for correctness.
func WithMirror(m *Mirror) StoreOption {
	return func(s *Store) { s.mirror = m }
}

// NewStore creates a vector record store on the given key-value backend.
func NewStore(kv keyval.Store, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("vector: key-value store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{kv: kv, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put stores a record, overwriting any existing record with the same id.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" || rec.Tenant == "" {
		return fmt.Errorf("%w: id and tenant are required", ErrInvalidRecord)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyVector, rec.ID)
	}

	rec.Dimensionality = len(rec.Vector)
	rec.StorageFormat = FormatBinary
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("vector: marshaling metadata for %s: %w", rec.ID, err)
	}

	if err := s.kv.Put(ctx, keyval.VectorKey(rec.Tenant, rec.ID), Encode(rec.Vector)); err != nil {
		return fmt.Errorf("vector: writing payload for %s: %w", rec.ID, err)
	}
	if err := s.kv.Put(ctx, keyval.VectorMetaKey(rec.Tenant, rec.ID), meta); err != nil {
		return fmt.Errorf("vector: writing metadata for %s: %w", rec.ID, err)
	}

	if s.mirror != nil {
		if err := s.mirror.Upsert(ctx, &rec); err != nil {
			s.logger.Warn("vector: mirror upsert failed",
				zap.String("tenant", rec.Tenant),
				zap.String("content_id", rec.ID),
				zap.Error(err))
		}
	}

	return nil
}

// Get returns the record for a content id, or ErrNotFound.
//
// When both the binary and the legacy JSON representation exist, the
// binary one takes precedence.
func (s *Store) Get(ctx context.Context, tenant, contentID string) (*Record, error) {
	metaBytes, err := s.kv.Get(ctx, keyval.VectorMetaKey(tenant, contentID))
	if errors.Is(err, keyval.ErrKeyNotFound) {
		return s.getLegacy(ctx, tenant, contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("vector: reading metadata for %s: %w", contentID, err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("vector: decoding metadata for %s: %w", contentID, err)
	}

	data, err := s.kv.Get(ctx, keyval.VectorKey(tenant, contentID))
	if errors.Is(err, keyval.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s has metadata but no payload", ErrNotFound, contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("vector: reading payload for %s: %w", contentID, err)
	}

	vec, err := Decode(data, meta.Dimensionality)
	if err != nil {
		return nil, fmt.Errorf("vector: decoding payload for %s: %w", contentID, err)
	}

	return &Record{Metadata: meta, Vector: vec}, nil
}

// getLegacy reads the legacy JSON representation, if any.
func (s *Store) getLegacy(ctx context.Context, tenant, contentID string) (*Record, error) {
	data, err := s.kv.Get(ctx, keyval.LegacyVectorKey(tenant, contentID))
	if errors.Is(err, keyval.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tenant, contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("vector: reading legacy record for %s: %w", contentID, err)
	}

	var legacy legacyRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("vector: decoding legacy record for %s: %w", contentID, err)
	}

	vec := make([]float32, len(legacy.Vector))
	for i, v := range legacy.Vector {
		vec[i] = float32(v)
	}

	return &Record{
		Metadata: Metadata{
			ID:             contentID,
			Tenant:         tenant,
			Dimensionality: len(vec),
			Provider:       legacy.Provider,
			Model:          legacy.Model,
			StorageFormat:  FormatJSON,
			CreatedAt:      legacy.CreatedAt,
		},
		Vector: vec,
	}, nil
}

// Exists reports whether a record (binary or legacy) exists for the id.
func (s *Store) Exists(ctx context.Context, tenant, contentID string) (bool, error) {
	if _, err := s.kv.Get(ctx, keyval.VectorMetaKey(tenant, contentID)); err == nil {
		return true, nil
	} else if !errors.Is(err, keyval.ErrKeyNotFound) {
		return false, fmt.Errorf("vector: checking %s: %w", contentID, err)
	}

	if _, err := s.kv.Get(ctx, keyval.LegacyVectorKey(tenant, contentID)); err == nil {
		return true, nil
	} else if !errors.Is(err, keyval.ErrKeyNotFound) {
		return false, fmt.Errorf("vector: checking legacy %s: %w", contentID, err)
	}

	return false, nil
}

// Delete removes a record and its legacy representation.
func (s *Store) Delete(ctx context.Context, tenant, contentID string) error {
	for _, key := range []string{
		keyval.VectorMetaKey(tenant, contentID),
		keyval.VectorKey(tenant, contentID),
		keyval.LegacyVectorKey(tenant, contentID),
	} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("vector: deleting %s: %w", key, err)
		}
	}
	return nil
}

// List returns the metadata of all binary records for a tenant.
func (s *Store) List(ctx context.Context, tenant string) ([]Metadata, error) {
	prefix := keyval.VectorMetaPrefix(tenant)
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("vector: listing records for %s: %w", tenant, err)
	}

	metas := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if errors.Is(err, keyval.ErrKeyNotFound) {
			continue // deleted between list and read
		}
		if err != nil {
			return nil, fmt.Errorf("vector: reading %s: %w", key, err)
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			s.logger.Warn("vector: skipping undecodable metadata",
				zap.String("key", key), zap.Error(err))
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// ListFallback returns the metadata of records not produced by the
// given primary provider. These are the recovery sweeper's targets.
func (s *Store) ListFallback(ctx context.Context, tenant, primary string) ([]Metadata, error) {
	metas, err := s.List(ctx, tenant)
	if err != nil {
		return nil, err
	}

	fallback := metas[:0]
	for _, m := range metas {
		if m.Provider != primary {
			fallback = append(fallback, m)
		}
	}
	return fallback, nil
}

// MigrateLegacy re-encodes a single legacy JSON record to the binary
// format. Returns false when no legacy record exists.
//
// The binary payload and metadata are written before the legacy record
// is deleted; if the delete fails, both representations coexist and
// reads prefer the binary one.
func (s *Store) MigrateLegacy(ctx context.Context, tenant, contentID string) (bool, error) {
	rec, err := s.getLegacy(ctx, tenant, contentID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.Put(ctx, *rec); err != nil {
		return false, fmt.Errorf("vector: migrating %s: %w", contentID, err)
	}

	if err := s.kv.Delete(ctx, keyval.LegacyVectorKey(tenant, contentID)); err != nil {
		s.logger.Warn("vector: legacy record delete failed after migration, binary takes precedence",
			zap.String("tenant", tenant),
			zap.String("content_id", contentID),
			zap.Error(err))
	}

	return true, nil
}

// MigrateTenant migrates every legacy record of a tenant, returning the
// number migrated.
func (s *Store) MigrateTenant(ctx context.Context, tenant string) (int, error) {
	prefix := keyval.LegacyVectorPrefix(tenant)
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("vector: listing legacy records for %s: %w", tenant, err)
	}

	migrated := 0
	for _, key := range keys {
		id := keyval.Suffix(key, prefix)
		ok, err := s.MigrateLegacy(ctx, tenant, id)
		if err != nil {
			return migrated, err
		}
		if ok {
			migrated++
		}
	}

	s.logger.Info("legacy migration complete",
		zap.String("tenant", tenant),
		zap.Int("migrated", migrated))
	return migrated, nil
}
