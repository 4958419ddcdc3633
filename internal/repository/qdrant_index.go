package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/timmy/storydedup/internal/logger"
	"github.com/timmy/storydedup/internal/vectorindex"
)

const payloadArtifactID = "artifact_id"

// pointNamespace scopes deterministic point ids to this engine.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("storydedup/artifact"))

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantIndex is a vectorindex.Store kept in a Qdrant collection.
// The server owns durability, so Save is a no-op and Load only verifies the collection.
type QdrantIndex struct {
	mu              sync.RWMutex
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
	log             *logger.Logger
}

var _ vectorindex.Store = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantIndex(cfg *QdrantConnectionConfig, log *logger.Logger) (*QdrantIndex, error) {
	if cfg.VectorDimension <= 0 {
		return nil, fmt.Errorf("qdrant index needs a positive vector dimension, got %d", cfg.VectorDimension)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return newQdrantIndex(conn, pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg.Collection, cfg.VectorDimension, log), nil
}

func newQdrantIndex(conn *grpc.ClientConn, points pb.PointsClient, collections pb.CollectionsClient, collection string, dim int, log *logger.Logger) *QdrantIndex {
	return &QdrantIndex{
		conn:            conn,
		pointsClient:    points,
		collectClient:   collections,
		collectionName:  collection,
		vectorDimension: dim,
		log:             log,
	}
}

// Close closes the gRPC connection
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// PointIDFor maps an artifact id to its stable Qdrant point id.
func PointIDFor(artifactID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(artifactID)).String()
}

func pointID(artifactID string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointIDFor(artifactID)}}
}

// EnsureCollection creates the collection if it doesn't exist and checks its vector size otherwise.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	info, err := q.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(q.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d: %w",
				q.collectionName, size, q.vectorDimension, vectorindex.ErrDimensionMismatch)
		}
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to get collection %s: %w", q.collectionName, err)
	}
	return q.createCollection(ctx)
}

func (q *QdrantIndex) createCollection(ctx context.Context) error {
	_, err := q.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalBool(v bool) *bool {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}
	for _, vectorParams := range vectors.GetParamsMap().GetMap() {
		if size := vectorParams.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

// Dimension implements vectorindex.Store.
func (q *QdrantIndex) Dimension() int {
	return q.vectorDimension
}

// Add implements vectorindex.Store.
func (q *QdrantIndex) Add(ctx context.Context, id string, vec []float32) bool {
	log := logger.FromContextOr(ctx, q.log).WithField(logger.FieldArtifactID, id)
	if id == "" {
		return false
	}
	norm, ok := vectorindex.NormalizeL2(vec)
	if !ok {
		log.Warn("qdrant index: rejecting empty or zero-norm vector")
		return false
	}
	if len(norm) != q.vectorDimension {
		log.WithFields(logger.Fields{"got_dim": len(norm), "index_dim": q.vectorDimension}).
			Warn("qdrant index: rejecting vector with mismatched dimension")
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.contains(ctx, id)
	if err != nil {
		log.WithError(err).Warn("qdrant index: existence check failed")
		return false
	}
	if exists {
		return true
	}

	_, err = q.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collectionName,
		Wait:           optionalBool(true),
		Points: []*pb.PointStruct{
			{
				Id: pointID(id),
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: norm},
					},
				},
				Payload: map[string]*pb.Value{
					payloadArtifactID: {Kind: &pb.Value_StringValue{StringValue: id}},
				},
			},
		},
	})
	if err != nil {
		log.WithError(err).Warn("qdrant index: upsert failed")
		return false
	}
	return true
}

// Search implements vectorindex.Store. The excluded id is filtered server-side with a has_id condition.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int, excludeID string) ([]vectorindex.Hit, error) {
	if k <= 0 || len(query) == 0 {
		return []vectorindex.Hit{}, nil
	}
	if len(query) != q.vectorDimension {
		return nil, vectorindex.ErrDimensionMismatch
	}
	norm, ok := vectorindex.NormalizeL2(query)
	if !ok {
		return []vectorindex.Hit{}, nil
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	req := &pb.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         norm,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if excludeID != "" {
		req.Filter = excludeFilter(excludeID)
	}

	resp, err := q.pointsClient.Search(ctx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []vectorindex.Hit{}, nil
		}
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vectorindex.Hit, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		id := scored.GetPayload()[payloadArtifactID].GetStringValue()
		if id == "" || id == excludeID {
			continue
		}
		sim := float64(scored.GetScore())
		if sim > 1 {
			sim = 1
		}
		hits = append(hits, vectorindex.Hit{ID: id, Similarity: sim})
	}
	return hits, nil
}

func excludeFilter(artifactID string) *pb.Filter {
	return &pb.Filter{
		MustNot: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_HasId{
					HasId: &pb.HasIdCondition{HasId: []*pb.PointId{pointID(artifactID)}},
				},
			},
		},
	}
}

// Contains implements vectorindex.Store.
func (q *QdrantIndex) Contains(ctx context.Context, id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	ok, err := q.contains(ctx, id)
	if err != nil {
		logger.FromContextOr(ctx, q.log).WithError(err).Warn("qdrant index: contains failed")
	}
	return ok
}

func (q *QdrantIndex) contains(ctx context.Context, id string) (bool, error) {
	resp, err := q.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: q.collectionName,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false},
		},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return len(resp.GetResult()) > 0, nil
}

// Size implements vectorindex.Store.
func (q *QdrantIndex) Size(ctx context.Context) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	resp, err := q.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: q.collectionName,
		Exact:          optionalBool(true),
	})
	if err != nil {
		if status.Code(err) != codes.NotFound {
			logger.FromContextOr(ctx, q.log).WithError(err).Warn("qdrant index: count failed")
		}
		return 0
	}
	return int(resp.GetResult().GetCount())
}

// Save implements vectorindex.Store. Upserts are acknowledged with wait=true, so there is nothing to flush.
func (q *QdrantIndex) Save(context.Context) error {
	return nil
}

// Load implements vectorindex.Store by making sure the collection exists with the right vector size.
func (q *QdrantIndex) Load(ctx context.Context) error {
	return q.EnsureCollection(ctx)
}

// Clear drops and recreates the collection.
func (q *QdrantIndex) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.collectClient.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collectionName})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to drop collection %s: %w", q.collectionName, err)
	}
	return q.createCollection(ctx)
}
