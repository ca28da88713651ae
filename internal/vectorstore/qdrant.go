package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("answerd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string

	// Port is the gRPC port (default 6334).
	Port int

	// APIKey authenticates against a secured Qdrant deployment.
	APIKey string

	// VectorSize is the dimensionality of embeddings.
	// MUST match the embedding provider's output dimension.
	VectorSize uint64

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff duration; doubles each retry.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// Isolation is the tenant isolation mode.
	// Default: PayloadIsolation for fail-closed security.
	Isolation IsolationMode
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// grpcNotFound reports whether err carries a gRPC NotFound status, as
// Qdrant returns for a collection that does not exist.
func grpcNotFound(err error) bool {
	for err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsTransientError checks if an error is transient (should retry).
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// Native gRPC transport bypasses the HTTP layer's payload size limits,
// which matters for large ingestion batches. Vectors are upserted with
// tenant payload and every query carries a mandatory tenant filter.
type QdrantStore struct {
	client    *qdrant.Client
	config    QdrantConfig
	logger    *zap.Logger
	isolation IsolationMode
}

// NewQdrantStore creates a QdrantStore and verifies connectivity.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, insecure for production")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	isolation := config.Isolation
	if isolation == nil {
		isolation = NewPayloadIsolation()
	}

	store := &QdrantStore{
		client:    client,
		config:    config,
		logger:    logger,
		isolation: isolation,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
		zap.String("isolation", isolation.Mode()),
	)
	return store, nil
}

// withRetry runs op with exponential backoff on transient gRPC errors.
func (s *QdrantStore) withRetry(ctx context.Context, op func() error) error {
	backoff := s.config.RetryBackoff
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err = op(); err == nil || !IsTransientError(err) {
			return err
		}
		s.logger.Warn("qdrant operation failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

// AddChunks upserts embedded chunks with tenant payload.
func (s *QdrantStore) AddChunks(ctx context.Context, collectionName string, chunks []Chunk) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.AddChunks")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return nil, ErrEmptyChunks
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}

	if err := s.isolation.InjectMetadata(ctx, chunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("injecting tenant metadata: %w", err)
	}

	if err := s.ensureCollection(ctx, collectionName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		// Qdrant point IDs must be UUIDs.
		if _, err := uuid.Parse(chunk.ID); err != nil {
			return nil, fmt.Errorf("chunk at index %d: ID %q is not a UUID: %w", i, chunk.ID, err)
		}
		if int(s.config.VectorSize) != len(chunk.Vector) {
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
				ErrDimensionMismatch, chunk.ID, len(chunk.Vector), s.config.VectorSize)
		}

		payload := map[string]interface{}{
			"content":      chunk.Content,
			metaDocumentID: chunk.DocumentID,
			metaChunkIndex: int64(chunk.Index),
		}
		for k, v := range chunk.Metadata {
			payload[k] = v
		}

		ids[i] = chunk.ID
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collectionName,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted chunks to qdrant",
		zap.String("collection", collectionName),
		zap.Int("count", len(chunks)),
	)
	return ids, nil
}

// tenantConditions builds mandatory payload match conditions from the
// injected tenant filter.
func (s *QdrantStore) tenantConditions(ctx context.Context, extra map[string]interface{}) ([]*qdrant.Condition, error) {
	filters, err := s.isolation.InjectFilter(ctx, extra)
	if err != nil {
		return nil, err
	}
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for k, v := range filters {
		str, ok := v.(string)
		if !ok {
			str = fmt.Sprintf("%v", v)
		}
		conditions = append(conditions, qdrant.NewMatch(k, str))
	}
	return conditions, nil
}

// SearchVector performs similarity search with a precomputed vector.
// The score threshold is pushed down to Qdrant.
func (s *QdrantStore) SearchVector(ctx context.Context, collectionName string, vector []float32, topK int, threshold float32) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.SearchVector")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("top_k", topK),
		attribute.Float64("threshold", float64(threshold)),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if int(s.config.VectorSize) != len(vector) {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	conditions, err := s.tenantConditions(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("injecting tenant filter: %w", err)
	}

	query := &qdrant.QueryPoints{
		CollectionName: collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         &qdrant.Filter{Must: conditions},
	}
	if threshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(threshold)
	}

	var scored []*qdrant.ScoredPoint
	err = s.withRetry(ctx, func() error {
		var qerr error
		scored, qerr = s.client.Query(ctx, query)
		return qerr
	})
	if err != nil {
		// A collection that was never created is an empty corpus to
		// callers, not a backend failure.
		if grpcNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collectionName, err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, point := range scored {
		result := SearchResult{
			ID:       point.Id.GetUuid(),
			Score:    point.Score,
			Metadata: make(map[string]interface{}, len(point.Payload)),
		}
		for k, v := range point.Payload {
			switch k {
			case "content":
				result.Content = v.GetStringValue()
			case metaDocumentID:
				result.DocumentID = v.GetStringValue()
			default:
				result.Metadata[k] = payloadValue(v)
			}
		}
		results = append(results, result)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

func payloadValue(v *qdrant.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}

// DeleteByDocument removes all chunks of a document, tenant-scoped.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, collectionName string, documentID string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.String("document_id", documentID),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if documentID == "" {
		return fmt.Errorf("document ID cannot be empty")
	}

	conditions, err := s.tenantConditions(ctx, map[string]interface{}{metaDocumentID: documentID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("injecting tenant filter: %w", err)
	}

	err = s.withRetry(ctx, func() error {
		_, derr := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{Must: conditions},
				},
			},
			Wait: qdrant.PtrOf(true),
		})
		return derr
	})
	if err != nil {
		if grpcNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionName)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting chunks for document %s: %w", documentID, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// ensureCollection get-or-creates the collection so a tenant's first
// ingest does not need a separate provisioning step. A concurrent
// create racing ours is fine.
func (s *QdrantStore) ensureCollection(ctx context.Context, collectionName string) error {
	exists, err := s.CollectionExists(ctx, collectionName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.CreateCollection(ctx, collectionName, int(s.config.VectorSize)); err != nil && !errors.Is(err, ErrCollectionExists) {
		return err
	}
	return nil
}

// CreateCollection creates a cosine-distance collection.
func (s *QdrantStore) CreateCollection(ctx context.Context, collectionName string, vectorSize int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.CreateCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("vector_size", vectorSize),
	)

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if vectorSize == 0 {
		vectorSize = int(s.config.VectorSize)
	}

	exists, err := s.CollectionExists(ctx, collectionName)
	if err != nil {
		return err
	}
	if exists {
		return ErrCollectionExists
	}

	err = s.withRetry(ctx, func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", collectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("created qdrant collection",
		zap.String("collection", collectionName),
		zap.Int("vector_size", vectorSize),
	)
	return nil
}

// DeleteCollection deletes a collection and all its chunks.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collectionName string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", collectionName))

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}

	err := s.withRetry(ctx, func() error {
		return s.client.DeleteCollection(ctx, collectionName)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", collectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted qdrant collection", zap.String("collection", collectionName))
	return nil
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collectionName string) (bool, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return false, err
	}

	var exists bool
	err := s.withRetry(ctx, func() error {
		var cerr error
		exists, cerr = s.client.CollectionExists(ctx, collectionName)
		return cerr
	})
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", collectionName, err)
	}
	return exists, nil
}

// GetCollectionInfo returns point count and vector size for a collection.
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, collectionName string) (*CollectionInfo, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.GetCollectionInfo")
	defer span.End()

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}

	exists, err := s.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	if !exists {
		span.SetStatus(codes.Error, "collection not found")
		return nil, ErrCollectionNotFound
	}

	var count uint64
	err = s.withRetry(ctx, func() error {
		var cerr error
		count, cerr = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collectionName,
			Exact:          qdrant.PtrOf(true),
		})
		return cerr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("counting points in %s: %w", collectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	return &CollectionInfo{
		Name:       collectionName,
		PointCount: int(count),
		VectorSize: int(s.config.VectorSize),
	}, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ Store = (*QdrantStore)(nil)
