package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// MirrorConfig holds configuration for the Qdrant mirror.
type MirrorConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (NOT the HTTP REST port).
	// Default: 6334
	Port int

	// Collection is the collection receiving mirrored points.
	// Default: "vectord"
	Collection string

	// VectorSize is the dimensionality of mirrored vectors.
	// Must match the primary provider's output dimension.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *MirrorConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "vectord"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c MirrorConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("mirror: invalid port: %d", c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("mirror: vector size is required")
	}
	return nil
}

// MirrorHit is a similarity search result from the mirror.
type MirrorHit struct {
	ContentID string
	Tenant    string
	Provider  string
	Score     float32
}

// Mirror replicates vector records to an external Qdrant instance for
// the search/serve layer. It is write-behind and best-effort: the
// pipeline's correctness never depends on it.
type Mirror struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
	logger     *zap.Logger
}

// NewMirror connects to Qdrant and ensures the mirror collection exists.
func NewMirror(ctx context.Context, config MirrorConfig, logger *zap.Logger) (*Mirror, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: connecting to qdrant: %w", err)
	}

	m := &Mirror{
		client:     client,
		collection: config.Collection,
		vectorSize: config.VectorSize,
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant mirror ready",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection))

	return m, nil
}

func (m *Mirror) ensureCollection(ctx context.Context) error {
	exists, err := m.client.CollectionExists(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("mirror: checking collection %s: %w", m.collection, err)
	}
	if exists {
		return nil
	}

	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     m.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("mirror: creating collection %s: %w", m.collection, err)
	}
	return nil
}

// pointID derives a stable point id from tenant and content id so that
// record overwrites map to point upserts, not duplicates.
func pointID(tenant, contentID string) *qdrant.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenant+"/"+contentID))
	return qdrant.NewIDUUID(id.String())
}

// Upsert mirrors a record as a point upsert.
func (m *Mirror) Upsert(ctx context.Context, rec *Record) error {
	payload := map[string]*qdrant.Value{
		"content_id": {Kind: &qdrant.Value_StringValue{StringValue: rec.ID}},
		"tenant":     {Kind: &qdrant.Value_StringValue{StringValue: rec.Tenant}},
		"provider":   {Kind: &qdrant.Value_StringValue{StringValue: rec.Provider}},
	}
	if rec.Model != "" {
		payload["model"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.Model}}
	}
	// Importance is an opaque external signal; carried through when the
	// event supplied one, never computed here.
	if rec.Importance != 0 {
		payload["importance"] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: rec.Importance}}
	}

	_, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: m.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(rec.Tenant, rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("mirror: upserting %s: %w", rec.ID, err)
	}
	return nil
}

// Search runs a tenant-scoped similarity search against the mirror.
func (m *Mirror) Search(ctx context.Context, tenant string, query []float32, k int) ([]MirrorHit, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "tenant",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: tenant}},
				},
			},
		}},
	}

	points, err := m.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: m.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: search failed: %w", err)
	}

	hits := make([]MirrorHit, 0, len(points))
	for _, p := range points {
		hit := MirrorHit{Score: p.Score}
		for key, v := range p.Payload {
			sv, ok := v.Kind.(*qdrant.Value_StringValue)
			if !ok {
				continue
			}
			switch key {
			case "content_id":
				hit.ContentID = sv.StringValue
			case "tenant":
				hit.Tenant = sv.StringValue
			case "provider":
				hit.Provider = sv.StringValue
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close closes the Qdrant connection.
func (m *Mirror) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
