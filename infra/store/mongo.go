// Package store provides document-store implementations of core/store.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wodeewa/fleetd/core/logger"
	"github.com/wodeewa/fleetd/core/model"
	corestore "github.com/wodeewa/fleetd/core/store"
)

// Config defines the MongoDB connection parameters.
type Config struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
	// ConnectTimeoutSeconds bounds the initial connect and ping.
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Database == "" {
		c.Database = "gps_tracker"
	}
	if c.ConnectTimeoutSeconds == 0 {
		c.ConnectTimeoutSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongo uri is required")
	}
	return nil
}

// maxHistoryRecords caps history query results.
const maxHistoryRecords = 1024

// MongoStore implements core/store.Store on MongoDB.
//
// Collections: unit_location, unit_battery and unit_startup are append-only
// series. unit_status holds exactly one current document per unit so that
// take/return can run as a single conditional update; status_log appends
// every transition for history queries.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    logger.Logger

	locations *mongo.Collection
	batteries *mongo.Collection
	statuses  *mongo.Collection
	statusLog *mongo.Collection
	startups  *mongo.Collection
}

// NewMongoStore connects to MongoDB and prepares collection handles and
// indexes.
func NewMongoStore(ctx context.Context, cfg Config, log logger.Logger) (*MongoStore, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:    client,
		db:        db,
		log:       log,
		locations: db.Collection("unit_location"),
		batteries: db.Collection("unit_battery"),
		statuses:  db.Collection("unit_status"),
		statusLog: db.Collection("status_log"),
		startups:  db.Collection("unit_startup"),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := true
	_, err := s.statuses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "unit", Value: 1}},
		Options: &options.IndexOptions{Unique: &unique},
	})
	if err != nil {
		return fmt.Errorf("unit_status index: %w", err)
	}
	for _, coll := range []*mongo.Collection{s.locations, s.batteries, s.statusLog, s.startups} {
		if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "unit", Value: 1}, {Key: "time", Value: -1}},
		}); err != nil {
			return fmt.Errorf("%s index: %w", coll.Name(), err)
		}
	}
	return nil
}

// lastPerUnitPipeline reduces a record series to the most recent record per
// unit.
func lastPerUnitPipeline(match bson.D) mongo.Pipeline {
	pipe := mongo.Pipeline{}
	if match != nil {
		pipe = append(pipe, bson.D{{Key: "$match", Value: match}})
	}
	return append(pipe,
		bson.D{{Key: "$sort", Value: bson.D{{Key: "unit", Value: 1}, {Key: "time", Value: -1}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$unit"},
			{Key: "lastrec", Value: bson.D{{Key: "$first", Value: "$$CURRENT"}}},
		}}},
		bson.D{{Key: "$replaceWith", Value: "$lastrec"}},
	)
}

func aggregateAll[T any](ctx context.Context, coll *mongo.Collection, pipe mongo.Pipeline) ([]T, error) {
	cur, err := coll.Aggregate(ctx, pipe)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) InsertLocation(ctx context.Context, rec model.UnitLocation) error {
	_, err := s.locations.InsertOne(ctx, rec)
	return err
}

func (s *MongoStore) InsertBattery(ctx context.Context, rec model.UnitBattery) error {
	_, err := s.batteries.InsertOne(ctx, rec)
	return err
}

// InsertStatus appends to the status log and advances the unit's current
// status document, unless a fresher document is already in place.
func (s *MongoStore) InsertStatus(ctx context.Context, rec model.UnitStatusRecord) error {
	if _, err := s.statusLog.InsertOne(ctx, rec); err != nil {
		return err
	}
	res, err := s.statuses.UpdateOne(ctx,
		bson.D{{Key: "unit", Value: rec.Unit}, {Key: "time", Value: bson.D{{Key: "$lt", Value: rec.Time}}}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "time", Value: rec.Time},
			{Key: "status", Value: rec.Status},
			{Key: "user", Value: rec.User},
		}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either the unit has no status document yet or ours is stale. The
		// unique index on unit resolves the race: a duplicate insert means a
		// fresher document won, which is fine.
		if _, err := s.statuses.InsertOne(ctx, rec); err != nil && !mongo.IsDuplicateKeyError(err) {
			return err
		}
	}
	return nil
}

func (s *MongoStore) InsertStartup(ctx context.Context, rec model.StartupRecord) error {
	_, err := s.startups.InsertOne(ctx, rec)
	return err
}

func (s *MongoStore) LastLocations(ctx context.Context) ([]model.UnitLocation, error) {
	return aggregateAll[model.UnitLocation](ctx, s.locations, lastPerUnitPipeline(nil))
}

func (s *MongoStore) LastBatteries(ctx context.Context) ([]model.UnitBattery, error) {
	return aggregateAll[model.UnitBattery](ctx, s.batteries, lastPerUnitPipeline(nil))
}

func (s *MongoStore) LastStatuses(ctx context.Context) ([]model.UnitStatusRecord, error) {
	cur, err := s.statuses.Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var out []model.UnitStatusRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) LatestStartup(ctx context.Context, unit string) (model.StartupRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "time", Value: -1}})
	var rec model.StartupRecord
	err := s.startups.FindOne(ctx, bson.D{{Key: "unit", Value: unit}}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.StartupRecord{}, corestore.ErrNotFound
	}
	if err != nil {
		return model.StartupRecord{}, err
	}
	return rec, nil
}

// Take performs the available→in_use transition as one conditional update.
// Zero matches means the unit was not available at write time; nothing is
// modified and the racing caller loses cleanly.
func (s *MongoStore) Take(ctx context.Context, unit, user string, now int64) error {
	res, err := s.statuses.UpdateOne(ctx,
		bson.D{{Key: "unit", Value: unit}, {Key: "status", Value: model.StatusAvailable}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.StatusInUse},
			{Key: "user", Value: user},
			{Key: "time", Value: now},
		}}},
	)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return corestore.ErrNotAvailable
	}
	s.appendStatusLog(ctx, model.UnitStatusRecord{Unit: unit, Time: now, Status: model.StatusInUse, User: user})
	return nil
}

// Return performs the in_use→available transition, conditional on the
// caller holding the unit.
func (s *MongoStore) Return(ctx context.Context, unit, user string, now int64) error {
	res, err := s.statuses.UpdateOne(ctx,
		bson.D{
			{Key: "unit", Value: unit},
			{Key: "status", Value: model.StatusInUse},
			{Key: "user", Value: user},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: model.StatusAvailable},
			{Key: "user", Value: ""},
			{Key: "time", Value: now},
		}}},
	)
	if err != nil {
		return err
	}
	if res.ModifiedCount == 0 {
		return corestore.ErrNotOwner
	}
	s.appendStatusLog(ctx, model.UnitStatusRecord{Unit: unit, Time: now, Status: model.StatusAvailable})
	return nil
}

// appendStatusLog is best-effort: the transition has already landed, a lost
// history row must not fail the operation.
func (s *MongoStore) appendStatusLog(ctx context.Context, rec model.UnitStatusRecord) {
	if _, err := s.statusLog.InsertOne(ctx, rec); err != nil {
		s.log.Warnf("status log append failed; unit='%s': %v", rec.Unit, err)
	}
}

func historyMatch(q corestore.Query) bson.D {
	timeCond := bson.D{{Key: "$ne", Value: nil}}
	if q.Until != 0 {
		timeCond = append(timeCond, bson.E{Key: "$lt", Value: q.Until})
	}
	if q.From != 0 {
		timeCond = append(timeCond, bson.E{Key: "$gt", Value: q.From})
	}
	match := bson.D{{Key: "time", Value: timeCond}}
	if q.Unit != "" {
		match = append(match, bson.E{Key: "unit", Value: q.Unit})
	}
	if len(q.Statuses) > 0 {
		match = append(match, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: q.Statuses}}})
	}
	return match
}

// historyPipeline builds the query pipeline: a named unit yields a
// time-ordered series, otherwise the series reduces to the last record per
// unit. Newest-first unless a lower time bound asks for oldest-first.
func historyPipeline(q corestore.Query) mongo.Pipeline {
	match := historyMatch(q)
	limit := q.Limit
	if limit <= 0 || limit > maxHistoryRecords {
		limit = maxHistoryRecords
	}
	if q.Unit == "" {
		return lastPerUnitPipeline(match)
	}
	sortDir := -1
	if q.From != 0 {
		sortDir = 1
	}
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "unit", Value: 1}, {Key: "time", Value: sortDir}}}},
		bson.D{{Key: "$limit", Value: limit}},
	}
}

func (s *MongoStore) LocationHistory(ctx context.Context, q corestore.Query) ([]model.UnitLocation, error) {
	q.Statuses = nil
	return aggregateAll[model.UnitLocation](ctx, s.locations, historyPipeline(q))
}

func (s *MongoStore) BatteryHistory(ctx context.Context, q corestore.Query) ([]model.UnitBattery, error) {
	q.Statuses = nil
	return aggregateAll[model.UnitBattery](ctx, s.batteries, historyPipeline(q))
}

func (s *MongoStore) StatusHistory(ctx context.Context, q corestore.Query) ([]model.UnitStatusRecord, error) {
	return aggregateAll[model.UnitStatusRecord](ctx, s.statusLog, historyPipeline(q))
}

// Close flushes and disconnects the client session.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
