package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantStore backs the semantic response cache.
type QdrantStore struct {
	client         *qdrant.Client
	collectionName string
	ttl            time.Duration
	logger         *slog.Logger
}

func NewQdrantStore(client *qdrant.Client, collectionName string, ttl time.Duration, logger *slog.Logger) *QdrantStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantStore{
		client:         client,
		collectionName: collectionName,
		ttl:            ttl,
		logger:         logger,
	}
}

func (s *QdrantStore) InitCollection(ctx context.Context, dim uint64) error {
	_, err := s.client.GetCollectionInfo(ctx, s.collectionName)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.NotFound {
			return err
		}
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	// Range filter on created_at enforces the cache TTL.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collectionName,
		FieldName:      "created_at",
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		s.logger.Warn("could not create created_at index (might already exist)", "error", err)
	}
	return nil
}

// Search returns the best hit above threshold, or empty content on a miss.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, threshold float32, filters map[string]string) (string, float32, error) {
	var must []*qdrant.Condition
	for key, value := range filters {
		must = append(must, qdrant.NewMatch(key, value))
	}

	since := time.Now().Add(-s.ttl).Unix()
	must = append(must, &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: "created_at",
				Range: &qdrant.Range{
					Gte: qdrant.PtrOf(float64(since)),
				},
			},
		},
	})

	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          qdrant.PtrOf(uint64(1)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: &threshold,
	})
	if err != nil {
		return "", 0, err
	}
	if len(res) == 0 {
		return "", 0, nil
	}

	hit := res[0]
	return hit.Payload["content"].GetStringValue(), hit.Score, nil
}

func (s *QdrantStore) Save(ctx context.Context, prompt, content string, vector []float32, metadata map[string]any) error {
	payload := map[string]any{
		"prompt":     prompt,
		"content":    content,
		"created_at": time.Now().Unix(),
	}
	for k, v := range metadata {
		payload[k] = v
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(uuid.NewString()),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	return err
}
