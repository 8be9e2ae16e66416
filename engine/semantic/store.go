// Package semantic owns all Qdrant operations. It exposes an
// integrated-embedding interface: callers submit and query raw text, and the
// store computes embeddings internally, so no vector ever crosses the
// package boundary. Namespaces are realized as a payload field plus filter,
// since Qdrant partitions by collection only.
package semantic

import (
	"context"
	"fmt"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	namespaceField = "namespace"
	chunkTextField = "chunk_text"
	recordIDField  = "id"

	// embedBatchSize bounds texts per embedding request.
	embedBatchSize = 100
	// statsSampleLimit bounds the scroll sample used to discover namespaces.
	statsSampleLimit = 256
)

// Store is the sole owner of all Qdrant operations.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	embedder    Embedder
	dims        int
}

// New creates a Store connected to Qdrant at the given gRPC address. dims is
// the embedding dimensionality used when creating indexes.
func New(addr string, embedder Embedder, dims int) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		embedder:    embedder,
		dims:        dims,
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// IndexExists reports whether the named index exists.
func (s *Store) IndexExists(ctx context.Context, index string) (bool, error) {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, domain.NewServiceError("qdrant", "list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == index {
			return true, nil
		}
	}
	return false, nil
}

// CreateIndex creates the named index if it doesn't exist.
func (s *Store) CreateIndex(ctx context.Context, index string) error {
	exists, err := s.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: index,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return domain.NewServiceError("qdrant", fmt.Sprintf("create index %s", index), err)
	}
	return nil
}

// DeleteIndex deletes the named index.
func (s *Store) DeleteIndex(ctx context.Context, index string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: index})
	if err != nil {
		return s.wrap("delete index", err)
	}
	return nil
}

// Stats reports index occupancy. The namespace breakdown is discovered from a
// bounded scroll sample, so a namespace absent from the sample is missing
// from the map — sampled, not exhaustive.
func (s *Store) Stats(ctx context.Context, index string) (domain.IndexStats, error) {
	var stats domain.IndexStats

	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: index})
	if err != nil {
		return stats, s.wrap("get collection info", err)
	}
	if params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		stats.Dimension = int(params.GetSize())
	}

	count, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: index})
	if err != nil {
		return stats, s.wrap("count points", err)
	}
	stats.TotalVectorCount = count.GetResult().GetCount()

	namespaces, err := s.sampleNamespaces(ctx, index)
	if err != nil {
		return stats, err
	}
	stats.Namespaces = make(map[string]uint64, len(namespaces))
	for _, ns := range namespaces {
		nsCount, err := s.points.Count(ctx, &pb.CountPoints{
			CollectionName: index,
			Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(namespaceField, ns)}},
		})
		if err != nil {
			return stats, s.wrap("count namespace", err)
		}
		stats.Namespaces[ns] = nsCount.GetResult().GetCount()
	}
	return stats, nil
}

func (s *Store) sampleNamespaces(ctx context.Context, index string) ([]string, error) {
	limit := uint32(statsSampleLimit)
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: index,
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Include{Include: &pb.PayloadIncludeSelector{Fields: []string{namespaceField}}}},
	})
	if err != nil {
		return nil, s.wrap("scroll namespaces", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range resp.GetResult() {
		ns := p.GetPayload()[namespaceField].GetStringValue()
		if ns != "" && !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	return out, nil
}

// Upsert embeds and stores records into the index under a namespace. Records
// with empty chunk text are ignored; the embedding side has nothing to embed.
func (s *Store) Upsert(ctx context.Context, index, namespace string, records []domain.UpsertRecord) error {
	kept := make([]domain.UpsertRecord, 0, len(records))
	for _, r := range records {
		if r.ChunkText != "" {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(kept))
	for i := 0; i < len(kept); i += embedBatchSize {
		end := min(i+embedBatchSize, len(kept))
		batch := kept[i:end]

		texts := make([]string, len(batch))
		for j, r := range batch {
			texts[j] = r.ChunkText
		}
		embeddings, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return domain.NewServiceError("embedder", "embed batch", err)
		}

		for j, r := range batch {
			payload := make(map[string]*pb.Value, len(r.Metadata)+3)
			for k, v := range r.Metadata {
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
			}
			payload[recordIDField] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.ID}}
			payload[chunkTextField] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.ChunkText}}
			payload[namespaceField] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: namespace}}

			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(namespace, r.ID)}},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: embeddings[j]}},
				},
				Payload: payload,
			})
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: index,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return s.wrap(fmt.Sprintf("upsert %d points", len(points)), err)
	}
	return nil
}

// QueryByText embeds the query text and performs filtered k-NN search,
// normalizing raw point shapes into Hits.
func (s *Store) QueryByText(ctx context.Context, index, namespace string, q TextQuery) ([]Hit, error) {
	embedding, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, domain.NewServiceError("embedder", "embed query", err)
	}

	must := []*pb.Condition{fieldMatch(namespaceField, namespace)}
	for k, v := range q.Filter.Match {
		must = append(must, fieldMatch(k, v))
	}
	for k, vals := range q.Filter.MatchAny {
		must = append(must, fieldMatchAny(k, vals))
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: index,
		Vector:         embedding,
		Limit:          uint64(q.TopK),
		Filter:         &pb.Filter{Must: must},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, s.wrap("search", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = normalizeHit(r)
	}
	return hits, nil
}

// DeleteAll removes every point in a namespace. Destructive; errors propagate.
func (s *Store) DeleteAll(ctx context.Context, index, namespace string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: index,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch(namespaceField, namespace)}},
			},
		},
	})
	if err != nil {
		return s.wrap(fmt.Sprintf("delete all in %s", namespace), err)
	}
	return nil
}

// DeleteByIDs removes specific records from a namespace by their record ids.
func (s *Store) DeleteByIDs(ctx context.Context, index, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(namespace, id)}}
	}
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: index,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return s.wrap(fmt.Sprintf("delete %d ids", len(ids)), err)
	}
	return nil
}

// wrap classifies a Qdrant error, surfacing missing collections as
// ErrIndexNotFound so callers can distinguish them from transient failures.
func (s *Store) wrap(op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return domain.NewServiceError("qdrant", op, fmt.Errorf("%w: %w", domain.ErrIndexNotFound, err))
	}
	return domain.NewServiceError("qdrant", op, err)
}

// pointID derives a deterministic UUID from namespace and record id, so
// re-upserting the same record overwrites rather than duplicates.
func pointID(namespace, recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+recordID)).String()
}

func normalizeHit(r *pb.ScoredPoint) Hit {
	hit := Hit{
		ID:     r.GetId().GetUuid(),
		Score:  r.GetScore(),
		Fields: make(map[string]string),
	}
	for k, val := range r.GetPayload() {
		s := val.GetStringValue()
		switch k {
		case recordIDField:
			if s != "" {
				hit.ID = s
			}
		case namespaceField:
			// internal partitioning detail, not caller metadata
		default:
			hit.Fields[k] = s
		}
	}
	return hit
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func fieldMatchAny(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}}},
			},
		},
	}
}
