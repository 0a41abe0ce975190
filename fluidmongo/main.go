// Package fluidmongo provides a MongoDB store for fluid collections
package fluidmongo

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/lemmego/fluid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// =====================================
// Provider Implementation
// =====================================

// Provider implements fluid.Provider using MongoDB
type Provider struct {
	client       *mongo.Client
	database     *mongo.Database
	config       fluid.Config
	transactions bool
}

// Factory implements fluid.ProviderFactory
type Factory struct{}

// Create creates a new MongoDB provider instance
func (f *Factory) Create(config fluid.Config) (fluid.Provider, error) {
	return Open(config)
}

// SupportedDrivers returns the list of supported database drivers
func (f *Factory) SupportedDrivers() []string {
	return []string{"mongodb", "mongo"}
}

// Open connects to MongoDB and pings the primary.
//
// Options["mongo"] accepts max_pool_size, min_pool_size, max_idle_time,
// connect_timeout and transactions. Set transactions to false on standalone
// servers; units of work then run without a session and are not rolled back.
func Open(config fluid.Config) (*Provider, error) {
	mongoOpts := config.AdapterOptions("mongo")

	clientOpts := options.Client().ApplyURI(buildConnectionURI(config))
	applyClientOptions(clientOpts, mongoOpts)

	timeout := 10 * time.Second
	if d, ok := mongoOpts["connect_timeout"].(time.Duration); ok {
		timeout = d
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "failed to connect to MongoDB",
			Cause:   err,
		}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "failed to ping MongoDB",
			Cause:   err,
		}
	}

	transactions := true
	if v, ok := mongoOpts["transactions"].(bool); ok {
		transactions = v
	}

	return &Provider{
		client:       client,
		database:     client.Database(config.Database),
		config:       config,
		transactions: transactions,
	}, nil
}

// buildConnectionURI builds the MongoDB connection URI
func buildConnectionURI(config fluid.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	uri := "mongodb://"
	if config.Username != "" {
		uri += config.Username
		if config.Password != "" {
			uri += ":" + config.Password
		}
		uri += "@"
	}

	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 27017
	}
	uri += fmt.Sprintf("%s:%d", host, port)

	if config.Database != "" {
		uri += "/" + config.Database
	}

	if config.SSL.Enabled {
		uri += "?tls=true"
		if config.SSL.CAFile != "" {
			uri += "&tlsCAFile=" + config.SSL.CAFile
		}
		if config.SSL.CertFile != "" {
			uri += "&tlsCertificateKeyFile=" + config.SSL.CertFile
		}
	}

	return uri
}

// applyClientOptions applies MongoDB-specific client options
func applyClientOptions(clientOpts *options.ClientOptions, mongoOpts map[string]interface{}) {
	if maxPoolSize, ok := mongoOpts["max_pool_size"].(int); ok {
		clientOpts.SetMaxPoolSize(uint64(maxPoolSize))
	}
	if minPoolSize, ok := mongoOpts["min_pool_size"].(int); ok {
		clientOpts.SetMinPoolSize(uint64(minPoolSize))
	}
	if maxIdleTime, ok := mongoOpts["max_idle_time"].(time.Duration); ok {
		clientOpts.SetMaxConnIdleTime(maxIdleTime)
	}
}

// Database returns the underlying database handle
func (p *Provider) Database() *mongo.Database {
	return p.database
}

// Health checks the database connection health
func (p *Provider) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return convertMongoError(p.client.Ping(ctx, readpref.Primary()))
}

// Close closes the database connection
func (p *Provider) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.Disconnect(ctx)
}

// SupportedFeatures returns the list of supported features
func (p *Provider) SupportedFeatures() []fluid.Feature {
	features := []fluid.Feature{fluid.FeatureIndexing, fluid.FeatureAggregation}
	if p.transactions {
		features = append(features, fluid.FeatureTransactions)
	}
	return features
}

// ProviderInfo returns information about this provider
func (p *Provider) ProviderInfo() fluid.ProviderInfo {
	return fluid.ProviderInfo{
		Name:         "MongoDB",
		Version:      "1.17",
		DatabaseType: fluid.DatabaseTypeDocument,
		Features:     p.SupportedFeatures(),
	}
}

// =====================================
// Store Implementation
// =====================================

// countersCollection holds one sequence document per collection for
// integer ids
const countersCollection = "fluid_counters"

// Store implements fluid.Store[T] on one MongoDB collection, named after the
// entity's table name
type Store[T any] struct {
	provider *Provider
	coll     *mongo.Collection
	desc     *fluid.Descriptor[T]
	keys     map[string]string // Go field name -> document key
	idKey    string
	session  mongo.Session
}

var _ fluid.Store[struct{}] = (*Store[struct{}])(nil)

// NewStore returns the store of a collection
func NewStore[T any](p *Provider, desc *fluid.Descriptor[T]) (*Store[T], error) {
	s, err := newStore(desc)
	if err != nil {
		return nil, err
	}
	s.provider = p
	s.coll = p.database.Collection(desc.Info().TableName)
	return s, nil
}

// newStore builds the field mapping of a store without binding a collection
func newStore[T any](desc *fluid.Descriptor[T]) (*Store[T], error) {
	s := &Store[T]{
		desc: desc,
		keys: make(map[string]string, len(desc.Info().Fields)),
	}
	for _, f := range desc.Info().Fields {
		if key, ok := bsonKey(f); ok {
			s.keys[f.Name] = key
		}
	}
	idKey, err := s.key(desc.IDField())
	if err != nil {
		return nil, err
	}
	s.idKey = idKey
	return s, nil
}

// Collection returns the underlying collection handle
func (s *Store[T]) Collection() *mongo.Collection {
	return s.coll
}

func (s *Store[T]) key(field string) (string, error) {
	key, ok := s.keys[field]
	if !ok {
		return "", fluid.NewError(fluid.ErrorTypeConfiguration,
			fmt.Sprintf("field %q is not stored in collection %s", field, s.desc.Alias()))
	}
	return key, nil
}

// ctx binds the running transaction, if any, to ctx
func (s *Store[T]) ctx(ctx context.Context) context.Context {
	if s.session == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, s.session)
}

// EnsureIndexes creates indexes on the default sort field and the deleted
// field of the collection
func (s *Store[T]) EnsureIndexes(ctx context.Context) error {
	var models []mongo.IndexModel
	for _, field := range []string{s.desc.SortField(), s.desc.DeletedField()} {
		if field == "" || field == s.desc.IDField() {
			continue
		}
		key, err := s.key(field)
		if err != nil {
			return err
		}
		models = append(models, mongo.IndexModel{Keys: map[string]interface{}{key: 1}})
	}
	if len(models) == 0 {
		return nil
	}
	_, err := s.coll.Indexes().CreateMany(ctx, models)
	return convertMongoError(err)
}

// Find returns the documents matching the query, ordered and windowed
func (s *Store[T]) Find(ctx context.Context, spec fluid.QuerySpec) ([]*T, error) {
	filter, err := s.buildFilter(spec)
	if err != nil {
		return nil, err
	}
	findOpts, err := s.buildFindOptions(spec)
	if err != nil {
		return nil, err
	}

	ctx = s.ctx(ctx)
	cursor, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, convertMongoError(err)
	}
	defer cursor.Close(ctx)

	items := []*T{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, convertMongoError(err)
	}
	return items, nil
}

// Count returns the number of documents matching the query filter
func (s *Store[T]) Count(ctx context.Context, spec fluid.QuerySpec) (int64, error) {
	filter, err := s.buildFilter(spec)
	if err != nil {
		return 0, err
	}
	total, err := s.coll.CountDocuments(s.ctx(ctx), filter)
	return total, convertMongoError(err)
}

// FindByID returns the document with the given id
func (s *Store[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	entity := new(T)
	err := s.coll.FindOne(s.ctx(ctx), map[string]interface{}{s.idKey: id}).Decode(entity)
	if err == mongo.ErrNoDocuments {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, convertMongoError(err)
	}
	return entity, nil
}

// Insert stores entity, assigning an id when it has none
func (s *Store[T]) Insert(ctx context.Context, entity *T) error {
	ctx = s.ctx(ctx)
	if s.desc.IsNew(entity) {
		id, err := s.nextID(ctx)
		if err != nil {
			return err
		}
		if err := s.desc.SetID(entity, id); err != nil {
			return err
		}
	} else if err := s.advanceCounter(ctx, s.desc.ID(entity)); err != nil {
		return err
	}
	_, err := s.coll.InsertOne(ctx, entity)
	return convertMongoError(err)
}

// Update replaces the stored document
func (s *Store[T]) Update(ctx context.Context, entity *T) error {
	id := s.desc.ID(entity)
	result, err := s.coll.ReplaceOne(s.ctx(ctx), map[string]interface{}{s.idKey: id}, entity)
	if err != nil {
		return convertMongoError(err)
	}
	if result.MatchedCount == 0 {
		return notFound(id)
	}
	return nil
}

// UpdateFields sets the given fields, keyed by Go field name
func (s *Store[T]) UpdateFields(ctx context.Context, id interface{}, fields map[string]interface{}) error {
	set := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		key, err := s.key(name)
		if err != nil {
			return err
		}
		set[key] = value
	}
	result, err := s.coll.UpdateOne(s.ctx(ctx),
		map[string]interface{}{s.idKey: id},
		map[string]interface{}{"$set": set})
	if err != nil {
		return convertMongoError(err)
	}
	if result.MatchedCount == 0 {
		return notFound(id)
	}
	return nil
}

// Delete removes the document
func (s *Store[T]) Delete(ctx context.Context, id interface{}) error {
	result, err := s.coll.DeleteOne(s.ctx(ctx), map[string]interface{}{s.idKey: id})
	if err != nil {
		return convertMongoError(err)
	}
	if result.DeletedCount == 0 {
		return notFound(id)
	}
	return nil
}

// Transaction runs fn inside a session transaction. MongoDB does not nest
// transactions, so fn runs on the receiver when one is already open.
func (s *Store[T]) Transaction(ctx context.Context, fn func(tx fluid.Store[T]) error) error {
	if s.session != nil || !s.provider.transactions {
		return fn(s)
	}

	session, err := s.provider.client.StartSession()
	if err != nil {
		return fluid.NewErrorWithCause(fluid.ErrorTypeTransaction, "failed to start session", err)
	}
	defer session.EndSession(ctx)

	var fnErr error
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		tx := *s
		tx.session = session
		fnErr = fn(&tx)
		return nil, fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fluid.NewErrorWithCause(fluid.ErrorTypeTransaction, "transaction failed", convertMongoError(err))
	}
	return nil
}

// =====================================
// ID Generation
// =====================================

// nextID generates an id for the id field type: a counter document for
// integers and a UUID for strings and uuid.UUID
func (s *Store[T]) nextID(ctx context.Context) (interface{}, error) {
	idType := s.desc.IDType()
	if id, ok := generatedID(idType); ok {
		return id, nil
	}
	if !isInteger(idType.Kind()) {
		return nil, fluid.NewError(fluid.ErrorTypeUnsupported,
			fmt.Sprintf("cannot generate ids of type %s", idType))
	}

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters().FindOneAndUpdate(ctx,
		map[string]interface{}{"_id": s.coll.Name()},
		map[string]interface{}{"$inc": map[string]interface{}{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return nil, convertMongoError(err)
	}
	return counter.Seq, nil
}

// advanceCounter moves the sequence past an explicitly assigned integer id
func (s *Store[T]) advanceCounter(ctx context.Context, id interface{}) error {
	v := reflect.ValueOf(id)
	var n int64
	switch {
	case v.CanInt():
		n = v.Int()
	case v.CanUint() && v.Uint() <= 1<<62:
		n = int64(v.Uint())
	default:
		return nil
	}
	_, err := s.counters().UpdateOne(ctx,
		map[string]interface{}{"_id": s.coll.Name()},
		map[string]interface{}{"$max": map[string]interface{}{"seq": n}},
		options.Update().SetUpsert(true))
	return convertMongoError(err)
}

func (s *Store[T]) counters() *mongo.Collection {
	return s.provider.database.Collection(countersCollection)
}

func generatedID(idType reflect.Type) (interface{}, bool) {
	switch {
	case idType == reflect.TypeOf(uuid.UUID{}):
		return uuid.New(), true
	case idType.Kind() == reflect.String:
		return reflect.ValueOf(uuid.NewString()).Convert(idType).Interface(), true
	}
	return nil, false
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func init() {
	fluid.RegisterProviderFactory("mongo", &Factory{})
}
