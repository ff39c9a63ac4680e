package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// qdrantOriginalIDField stashes the caller's fragment id in the point
// payload, since Qdrant point ids must be UUIDs or unsigned integers.
const qdrantOriginalIDField = "_fragment_id"

// QdrantANN is an ANNIndex backed by a Qdrant collection, used to accelerate
// search_by_vector for large namespaces (C3's optional ANN path). Dial and
// collection-bootstrap logic mirrors the teacher's vector-store client.
type QdrantANN struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantANN dials Qdrant's gRPC API (default port 6334) and ensures the
// named collection exists with cosine distance and the given dimension.
func NewQdrantANN(ctx context.Context, dsn, collection string, dimension int) (*QdrantANN, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant: dimension must be > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port in dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	q := &QdrantANN{client: client, collection: collection, dimension: dimension}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantANN) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

func pointID(fragmentID string) *qdrant.PointId {
	if _, err := uuid.Parse(fragmentID); err == nil {
		return qdrant.NewIDUUID(fragmentID)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(fragmentID)).String())
}

func (q *QdrantANN) Upsert(ctx context.Context, id string, vector []float32) error {
	vec := append([]float32(nil), vector...)
	points := []*qdrant.PointStruct{{
		Id:      pointID(id),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(map[string]any{qdrantOriginalIDField: id}),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	return err
}

func (q *QdrantANN) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	return err
}

func (q *QdrantANN) Query(ctx context.Context, vector []float32, k int) ([]string, error) {
	if k <= 0 {
		k = 10
	}
	vec := append([]float32(nil), vector...)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		id := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[qdrantOriginalIDField]; ok {
				id = v.GetStringValue()
			}
		}
		if id == "" {
			id = hit.Id.GetUuid()
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (q *QdrantANN) Dimension() int { return q.dimension }

func (q *QdrantANN) Close() error { return q.client.Close() }
