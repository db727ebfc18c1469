package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/workflow"
)

// MongoStore keeps one document per run, keyed by run id.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// ConnectMongo connects to MongoDB and returns a store on the configured
// collection. Close disconnects the client.
func ConnectMongo(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	// 嵌套文档解码为 bson.M，便于输出按 JSON 对象返回
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := NewMongoStore(client, client.Database(cfg.Database).Collection(cfg.Collection), logger)
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// NewMongoStore creates a store on an existing collection.
func NewMongoStore(client *mongo.Client, collection *mongo.Collection, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		client:     client,
		collection: collection,
		logger:     logger.With(zap.String("component", "history_mongo")),
	}
}

// EnsureIndexes creates the workflow and start time indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "started_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create mongo indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: rec.RunID}},
		rec,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: runID}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	normalizeMongoRecord(&rec)
	return &rec, nil
}

func (s *MongoStore) List(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error) {
	opts := options.Find().SetSort(listSort())
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.collection.Find(ctx, listFilter(workflowID), opts)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]*RunRecord, 0)
	for cur.Next(ctx) {
		var rec RunRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		normalizeMongoRecord(&rec)
		out = append(out, &rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, purgeFilter(olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return res.DeletedCount, nil
}

// Ping checks the server is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return errors.New("mongo store has no client")
	}
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client when the store owns one.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func listFilter(workflowID string) bson.D {
	if workflowID == "" {
		return bson.D{}
	}
	return bson.D{{Key: "workflow_id", Value: workflowID}}
}

func listSort() bson.D {
	return bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}}
}

func purgeFilter(olderThan time.Time) bson.D {
	return bson.D{
		{Key: "started_at", Value: bson.D{{Key: "$lt", Value: olderThan}}},
		{Key: "status", Value: bson.D{{Key: "$ne", Value: string(workflow.RunStatusRunning)}}},
	}
}

// BSON datetimes carry millisecond precision in UTC.
func normalizeMongoRecord(rec *RunRecord) {
	rec.StartedAt = rec.StartedAt.UTC()
	if !rec.EndedAt.IsZero() {
		rec.EndedAt = rec.EndedAt.UTC()
	}
	if m, ok := rec.Output.(bson.M); ok {
		rec.Output = map[string]any(m)
	}
	if rec.Nodes == nil {
		rec.Nodes = []NodeRecord{}
	}
	for i := range rec.Nodes {
		rec.Nodes[i].StartedAt = rec.Nodes[i].StartedAt.UTC()
		rec.Nodes[i].EndedAt = rec.Nodes[i].EndedAt.UTC()
	}
}
