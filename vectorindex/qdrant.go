package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"geocompliance-backend/models"
)

// QdrantIndex stores embeddings in a Qdrant collection. Point ids are the
// entries' stable ids; metadata and the first-ingestion seq live in the payload.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dim        int
}

// NewQdrantIndex connects to Qdrant over gRPC
func NewQdrantIndex(host string, port int, apiKey, collection string, dim int) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: apiKey != "",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Qdrant client: %w", ErrEmbeddingUnavailable, err)
	}
	return &QdrantIndex{client: client, collection: collection, dim: dim}, nil
}

// Close releases the gRPC connection
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// EnsureCollection creates the collection with cosine distance if it does not exist
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create collection %s: %w", ErrEmbeddingUnavailable, q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, entries []models.EmbeddingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != q.dim {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e.Vector), q.dim)
		}
		ids = append(ids, qdrant.NewIDUUID(e.StableID.String()))
	}

	existing, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayloadInclude("seq"),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to read existing points: %w", ErrEmbeddingUnavailable, err)
	}
	seqs := make(map[string]int64, len(existing))
	for _, p := range existing {
		seqs[p.GetId().GetUuid()] = p.GetPayload()["seq"].GetIntegerValue()
	}

	base := time.Now().UnixNano()
	points := make([]*qdrant.PointStruct, 0, len(entries))
	for i, e := range entries {
		seq, ok := seqs[e.StableID.String()]
		if !ok {
			seq = base + int64(i)
		}
		m := e.Metadata
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(e.StableID.String()),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"kind":        string(m.Kind),
				"name":        m.Name,
				"region":      m.Region,
				"statute":     m.Statute,
				"law_id":      m.LawID,
				"term":        m.Term,
				"text":        m.Text,
				"source_file": m.SourceFile,
				"seq":         seq,
			}),
		})
	}

	wait := true
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upsert points: %w", ErrEmbeddingUnavailable, err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Candidate, error) {
	if len(vector) != q.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), q.dim)
	}
	if k <= 0 {
		k = 20
	}

	var must []*qdrant.Condition
	if regions := upperAll(filter.Regions); len(regions) > 0 {
		must = append(must, qdrant.NewMatchKeywords("region", regions...))
	}
	if statutes := upperAll(filter.Statutes); len(statutes) > 0 {
		must = append(must, qdrant.NewMatchKeywords("statute", statutes...))
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			kinds[i] = string(kind)
		}
		must = append(must, qdrant.NewMatchKeywords("kind", kinds...))
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(must) > 0 {
		req.Filter = &qdrant.Filter{Must: must}
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query points: %w", ErrEmbeddingUnavailable, err)
	}

	out := make([]Candidate, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		id, err := uuid.Parse(p.GetId().GetUuid())
		if err != nil {
			return nil, fmt.Errorf("invalid point id: %w", err)
		}
		out = append(out, Candidate{
			Entry: models.EmbeddingEntry{
				StableID: id,
				Metadata: models.EntryMetadata{
					Kind:       models.RecordKind(payload["kind"].GetStringValue()),
					Name:       payload["name"].GetStringValue(),
					Region:     payload["region"].GetStringValue(),
					Statute:    payload["statute"].GetStringValue(),
					LawID:      payload["law_id"].GetStringValue(),
					Term:       payload["term"].GetStringValue(),
					Text:       payload["text"].GetStringValue(),
					SourceFile: payload["source_file"].GetStringValue(),
				},
			},
			Similarity: float64(p.GetScore()),
			Seq:        payload["seq"].GetIntegerValue(),
		})
	}
	sortCandidates(out)
	return out, nil
}
