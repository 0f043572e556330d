package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kilianp07/fleetiot/core/factory"
	"github.com/kilianp07/fleetiot/core/vehicle"
)

// MongoStore keeps vehicles in a MongoDB collection with a unique index on
// serial.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoConf struct {
	URI        string `json:"uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
	TimeoutMS  int    `json:"timeout_ms"`
}

func newMongoFromConf(raw map[string]any) (vehicle.Store, error) {
	var c mongoConf
	if err := factory.Decode(raw, &c); err != nil {
		return nil, err
	}
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "fleetiot"
	}
	if c.Collection == "" {
		c.Collection = "vehicles"
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = 10000
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.TimeoutMS)*time.Millisecond)
	defer cancel()
	return NewMongoStore(ctx, c.URI, c.Database, c.Collection)
}

// NewMongoStore connects, pings and ensures the serial index.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "serial", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index: %w", err)
	}
	return &MongoStore{client: client, collection: coll}, nil
}

// Create inserts v. An existing ID or serial returns vehicle.ErrDuplicate.
func (s *MongoStore) Create(ctx context.Context, v vehicle.Vehicle) error {
	_, err := s.collection.InsertOne(ctx, v)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", vehicle.ErrDuplicate, v.ID)
	}
	return err
}

// FindBySerial returns vehicle.ErrNotFound when no record has serial.
func (s *MongoStore) FindBySerial(ctx context.Context, serial string) (*vehicle.Vehicle, error) {
	var v vehicle.Vehicle
	err := s.collection.FindOne(ctx, bson.M{"serial": serial}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, vehicle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Update sets every mutable field; serial is never rewritten.
func (s *MongoStore) Update(ctx context.Context, v vehicle.Vehicle) error {
	set := bson.M{
		"site_id":    v.SiteID,
		"category":   v.Category,
		"status":     v.Status,
		"battery":    v.Battery,
		"light":      v.Light,
		"rider_id":   v.RiderID,
		"updated_at": v.UpdatedAt,
	}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": v.ID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return vehicle.ErrNotFound
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]vehicle.Vehicle, error) {
	cur, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var out []vehicle.Vehicle
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
