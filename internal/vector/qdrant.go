package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	archerrors "lifearch/internal/errors"
)

var _ Store = (*QdrantStore)(nil)

// QdrantStore is the Qdrant-backed Store.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimensions uint64
	logger     *slog.Logger
}

// NewQdrantStore connects to a Qdrant instance.
func NewQdrantStore(host string, port int, collection string, dimensions int, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindUnavailable, "failed to connect to qdrant", err)
	}
	return &QdrantStore{
		client:     client,
		collection: collection,
		dimensions: uint64(dimensions),
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection with cosine distance if it
// does not already exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return archerrors.Wrap(archerrors.KindUnavailable, "failed to check collection", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to create collection", err)
	}
	s.logger.Info("created vector collection", "collection", s.collection, "dimensions", s.dimensions)
	return nil
}

// Upsert writes points in one batch.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		if len(p.Vector) != int(s.dimensions) {
			return archerrors.Newf(archerrors.KindValidation,
				"point %s has %d dimensions, collection expects %d", p.ID, len(p.Vector), s.dimensions)
		}
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qpoints,
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to upsert points", err)
	}
	return nil
}

// Query runs a nearest-neighbour search with an optional payload
// equality filter.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, limit int, filter map[string]string) ([]Hit, error) {
	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		req.Filter = equalityFilter(filter)
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindUnavailable, "vector query failed", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			ID:      pointID(p.Id),
			Score:   p.Score,
			Payload: payloadToMap(p.Payload),
		})
	}
	return hits, nil
}

// PointsByDocument scrolls all points carrying the document's id.
func (s *QdrantStore) PointsByDocument(ctx context.Context, docID string) ([]Hit, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         equalityFilter(map[string]string{"document_id": docID}),
		WithPayload:    qdrant.NewWithPayload(true),
		Limit:          qdrant.PtrOf(uint32(1000)),
	})
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindUnavailable, "vector scroll failed", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			ID:      pointID(p.Id),
			Payload: payloadToMap(p.Payload),
		})
	}
	return hits, nil
}

// DeleteByDocument removes every point whose payload references docID.
func (s *QdrantStore) DeleteByDocument(ctx context.Context, docID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(
			equalityFilter(map[string]string{"document_id": docID}),
		),
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to delete points", err)
	}
	return nil
}

func equalityFilter(filter map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for field, value := range filter {
		conditions = append(conditions, qdrant.NewMatch(field, value))
	}
	return &qdrant.Filter{Must: conditions}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToAny(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
