package repository

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 768

	payloadImageID = "image_id"
	payloadTags    = "tags"
	payloadTitle   = "title"
	payloadPageNo  = "page_no"
	payloadAddedAt = "added_at"
)

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

// PointID maps an artwork hash to its deterministic vector point id, so
// re-indexing the same artwork replaces the existing point.
func PointID(artworkID string) string {
	sum := sha256.Sum256([]byte(artworkID))
	id, _ := uuid.FromBytes(sum[:16])
	return id.String()
}

// QdrantRepository is the vector index, one point per artwork.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int

	ensureMu sync.Mutex
	ensured  bool
}

// NewQdrantRepository creates a new QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
// The collection is created lazily on first use.
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
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

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// ensure runs EnsureCollection once. A failed attempt is retried on the next call.
func (r *QdrantRepository) ensure(ctx context.Context) error {
	r.ensureMu.Lock()
	defer r.ensureMu.Unlock()
	if r.ensured {
		return nil
	}
	if err := r.EnsureCollection(ctx); err != nil {
		return err
	}
	r.ensured = true
	return nil
}

// EnsureCollection creates the collection and its payload indexes if missing.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
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

	indexes := []struct {
		field string
		kind  pb.FieldType
	}{
		{payloadTags, pb.FieldType_FieldTypeKeyword},
		{payloadPageNo, pb.FieldType_FieldTypeInteger},
		{payloadAddedAt, pb.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		if _, err := r.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: r.collectionName,
			Wait:           optionalBool(true),
			FieldName:      idx.field,
			FieldType:      idx.kind.Enum(),
		}); err != nil {
			return fmt.Errorf("failed to create payload index %s: %w", idx.field, err)
		}
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalUint32(v uint32) *uint32 {
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
	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if size := params.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

// ArtworkPayload is the filterable payload stored with each vector.
// PageNo is nil for standalone artworks and is stored as an explicit null.
type ArtworkPayload struct {
	ImageID string
	Tags    []string
	Title   string
	PageNo  *int
	AddedAt int64
}

// Upsert inserts or replaces the point for an artwork.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - pointID: UUID from PointID.
//   - vector: normalized embedding.
//   - payload: filterable payload.
// Returns:
//   - error: non-nil if the collection cannot be ensured or the write fails.
func (r *QdrantRepository) Upsert(ctx context.Context, pointID string, vector []float32, payload *ArtworkPayload) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}

	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
				},
				Payload: payloadToValues(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

func payloadToValues(p *ArtworkPayload) map[string]*pb.Value {
	pageNo := &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	if p.PageNo != nil {
		pageNo = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(*p.PageNo)}}
	}
	return map[string]*pb.Value{
		payloadImageID: {Kind: &pb.Value_StringValue{StringValue: p.ImageID}},
		payloadTitle:   {Kind: &pb.Value_StringValue{StringValue: p.Title}},
		payloadAddedAt: {Kind: &pb.Value_IntegerValue{IntegerValue: p.AddedAt}},
		payloadPageNo:  pageNo,
		payloadTags:    tagsToValue(p.Tags),
	}
}

func tagsToValue(tags []string) *pb.Value {
	values := make([]*pb.Value, len(tags))
	for i, tag := range tags {
		values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tag}}
	}
	return &pb.Value{
		Kind: &pb.Value_ListValue{
			ListValue: &pb.ListValue{Values: values},
		},
	}
}

// SearchResult is one vector hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload *ArtworkPayload
}

// Search returns the nearest points to vector, best first.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}

	resp, err := r.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, scored := range resp.Result {
		results[i] = SearchResult{
			ID:      scored.Id.GetUuid(),
			Score:   scored.Score,
			Payload: parsePayload(scored.Payload),
		}
	}
	return results, nil
}

// TagFilter selects points for tag browsing.
type TagFilter struct {
	// Tags must all be present on the point.
	Tags []string
	// GroupSets keeps only standalone artworks and first pages of sets.
	GroupSets bool
}

// Scroll returns one page of points matching filter, starting after cursor.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - filter: tag conjunction and set grouping.
//   - limit: page size.
//   - cursor: point id returned by the previous call, empty for the first page.
// Returns:
//   - []SearchResult: points of this page.
//   - string: cursor for the next page, empty when exhausted.
//   - error: non-nil if the request fails.
func (r *QdrantRepository) Scroll(ctx context.Context, filter TagFilter, limit int, cursor string) ([]SearchResult, string, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, "", err
	}

	req := &pb.ScrollPoints{
		CollectionName: r.collectionName,
		Filter:         buildFilter(filter),
		Limit:          optionalUint32(uint32(limit)),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if cursor != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: cursor}}
	}

	resp, err := r.pointsClient.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to scroll: %w", err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, point := range resp.Result {
		results[i] = SearchResult{
			ID:      point.Id.GetUuid(),
			Payload: parsePayload(point.Payload),
		}
	}

	next := ""
	if resp.NextPageOffset != nil {
		next = resp.NextPageOffset.GetUuid()
	}
	return results, next, nil
}

func buildFilter(filter TagFilter) *pb.Filter {
	var must []*pb.Condition
	for _, tag := range filter.Tags {
		must = append(must, keywordCondition(payloadTags, tag))
	}

	var should []*pb.Condition
	if filter.GroupSets {
		should = []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   payloadPageNo,
						Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: 0}},
					},
				},
			},
			{
				ConditionOneOf: &pb.Condition_IsNull{
					IsNull: &pb.IsNullCondition{Key: payloadPageNo},
				},
			},
		}
	}

	if len(must) == 0 && len(should) == 0 {
		return nil
	}
	return &pb.Filter{Must: must, Should: should}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func parsePayload(payload map[string]*pb.Value) *ArtworkPayload {
	if payload == nil {
		return nil
	}

	p := &ArtworkPayload{}
	if v, ok := payload[payloadImageID]; ok {
		p.ImageID = v.GetStringValue()
	}
	if v, ok := payload[payloadTitle]; ok {
		p.Title = v.GetStringValue()
	}
	if v, ok := payload[payloadAddedAt]; ok {
		p.AddedAt = v.GetIntegerValue()
	}
	if v, ok := payload[payloadPageNo]; ok {
		if n, isInt := v.GetKind().(*pb.Value_IntegerValue); isInt {
			page := int(n.IntegerValue)
			p.PageNo = &page
		}
	}
	if v, ok := payload[payloadTags]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				p.Tags = append(p.Tags, item.GetStringValue())
			}
		}
	}

	return p
}

// Delete deletes a point by ID
func (r *QdrantRepository) Delete(ctx context.Context, pointID string) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}

	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	_, err = r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{
						{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}

	return nil
}
