package attendance

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoCollection is the collection records are written to.
const MongoCollection = "attendances"

// MongoRepository persists records as documents.
type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// NewMongoRepository uses the attendances collection of database.
func NewMongoRepository(client *mongo.Client, database string) *MongoRepository {
	return &MongoRepository{
		client: client,
		coll:   client.Database(database).Collection(MongoCollection),
		now:    time.Now,
	}
}

// EnsureIndexes indexes the two filterable fields.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "deviceId", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})
	return err
}

func (r *MongoRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	rec = prepareInsert(rec, r.now())
	// BSON dates keep millisecond precision only.
	rec.Timestamp = rec.Timestamp.Truncate(time.Millisecond)
	rec.CreatedAt = rec.CreatedAt.Truncate(time.Millisecond)
	rec.UpdatedAt = rec.UpdatedAt.Truncate(time.Millisecond)
	if _, err := r.coll.InsertOne(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *MongoRepository) Find(ctx context.Context, f Filter) ([]Record, error) {
	cur, err := r.coll.Find(ctx, mongoFilter(f), findOptions(f.Limit))
	if err != nil {
		return nil, err
	}
	out := []Record{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Timestamp = out[i].Timestamp.UTC()
		out[i].CreatedAt = out[i].CreatedAt.UTC()
		out[i].UpdatedAt = out[i].UpdatedAt.UTC()
	}
	return out, nil
}

func (r *MongoRepository) CountByDay(ctx context.Context, since time.Time) ([]DayCount, error) {
	cur, err := r.coll.Aggregate(ctx, dayCountPipeline(since))
	if err != nil {
		return nil, err
	}
	var out []DayCount
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func mongoFilter(f Filter) bson.D {
	q := bson.D{}
	if f.DeviceID != "" {
		q = append(q, bson.E{Key: "deviceId", Value: f.DeviceID})
	}
	if f.From != nil || f.To != nil {
		rng := bson.D{}
		if f.From != nil {
			rng = append(rng, bson.E{Key: "$gte", Value: f.From.UTC()})
		}
		if f.To != nil {
			rng = append(rng, bson.E{Key: "$lte", Value: f.To.UTC()})
		}
		q = append(q, bson.E{Key: "timestamp", Value: rng})
	}
	return q
}

// findOptions sorts newest first and applies limit, or DefaultListLimit.
func findOptions(limit int) *options.FindOptions {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
}

// dayCountPipeline groups records at or after since by UTC day, ascending.
// $dateToString formats in UTC unless given a timezone.
func dayCountPipeline(since time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since.UTC()}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: "%Y-%m-%d"},
				{Key: "date", Value: "$timestamp"},
			}}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}
