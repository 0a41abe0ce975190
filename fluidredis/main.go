// Package fluidredis provides a Redis store for fluid collections.
//
// Each entity is stored as a JSON string under "<prefix><table>:<id>" and the
// ids of a collection are kept in the set "<prefix><table>:ids". Queries load
// the collection and evaluate filters, ordering and paging in process, so the
// store suits small collections such as settings, sessions or lookup tables.
package fluidredis

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lemmego/fluid"
)

// =====================================
// Provider Implementation
// =====================================

// Provider implements fluid.Provider using Redis
type Provider struct {
	client    *redis.Client
	config    fluid.Config
	keyPrefix string
}

// Factory implements fluid.ProviderFactory
type Factory struct{}

// Create creates a new Redis provider instance
func (f *Factory) Create(config fluid.Config) (fluid.Provider, error) {
	return Open(config)
}

// SupportedDrivers returns the list of supported Redis drivers
func (f *Factory) SupportedDrivers() []string {
	return []string{"redis"}
}

// Open connects to Redis. Config.Database selects the logical database
// number; Options["redis"] accepts dial_timeout, read_timeout, write_timeout
// and key_prefix.
func Open(config fluid.Config) (*Provider, error) {
	client := redis.NewClient(buildOptions(config))
	p := NewProvider(client, config)
	if err := p.Health(); err != nil {
		client.Close()
		return nil, fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "failed to connect to Redis",
			Cause:   err,
		}
	}
	return p, nil
}

// NewProvider wraps an existing client
func NewProvider(client *redis.Client, config fluid.Config) *Provider {
	prefix, _ := config.AdapterOptions("redis")["key_prefix"].(string)
	return &Provider{client: client, config: config, keyPrefix: prefix}
}

func buildOptions(config fluid.Config) *redis.Options {
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 6379
	}
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: config.Username,
		Password: config.Password,
	}
	if config.ConnectionURL != "" {
		if parsed, err := redis.ParseURL(config.ConnectionURL); err == nil {
			opts = parsed
		}
	}

	if config.Database != "" {
		if db, err := strconv.Atoi(config.Database); err == nil {
			opts.DB = db
		}
	}

	if config.MaxOpenConns > 0 {
		opts.PoolSize = config.MaxOpenConns
	}
	if config.MaxIdleConns > 0 {
		opts.MinIdleConns = config.MaxIdleConns
	}
	if config.ConnMaxLifetime > 0 {
		opts.MaxConnAge = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		opts.IdleTimeout = config.ConnMaxIdleTime
	}

	redisOpts := config.AdapterOptions("redis")
	if dialTimeout, ok := redisOpts["dial_timeout"].(time.Duration); ok {
		opts.DialTimeout = dialTimeout
	}
	if readTimeout, ok := redisOpts["read_timeout"].(time.Duration); ok {
		opts.ReadTimeout = readTimeout
	}
	if writeTimeout, ok := redisOpts["write_timeout"].(time.Duration); ok {
		opts.WriteTimeout = writeTimeout
	}

	return opts
}

// Client returns the underlying client
func (p *Provider) Client() *redis.Client {
	return p.client
}

// Health checks the connection to Redis
func (p *Provider) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (p *Provider) Close() error {
	return p.client.Close()
}

// SupportedFeatures returns the features supported by Redis
func (p *Provider) SupportedFeatures() []fluid.Feature {
	return []fluid.Feature{fluid.FeatureTransactions}
}

// ProviderInfo returns information about the Redis provider
func (p *Provider) ProviderInfo() fluid.ProviderInfo {
	return fluid.ProviderInfo{
		Name:         "Redis",
		Version:      "7.0",
		DatabaseType: fluid.DatabaseTypeKV,
		Features:     p.SupportedFeatures(),
	}
}

// =====================================
// Store Implementation
// =====================================

// Store implements fluid.Store[T] on Redis strings
type Store[T any] struct {
	client redis.Cmdable
	desc   *fluid.Descriptor[T]
	prefix string // "<prefix><table>:"
	tx     *txState
}

// txState buffers the writes of a unit of work until it commits. A nil
// document marks a deletion.
type txState struct {
	docs map[string][]byte
}

var _ fluid.Store[struct{}] = (*Store[struct{}])(nil)

// NewStore returns the store of a collection, keyed by the entity's table name
func NewStore[T any](p *Provider, desc *fluid.Descriptor[T]) (*Store[T], error) {
	return &Store[T]{
		client: p.client,
		desc:   desc,
		prefix: p.keyPrefix + desc.Info().TableName + ":",
	}, nil
}

func (s *Store[T]) docKey(id string) string { return s.prefix + id }
func (s *Store[T]) idsKey() string          { return s.prefix + "ids" }
func (s *Store[T]) seqKey() string          { return s.prefix + "seq" }

func idString(id interface{}) string {
	return fmt.Sprint(id)
}

// Find loads the collection and applies the query in process
func (s *Store[T]) Find(ctx context.Context, spec fluid.QuerySpec) ([]*T, error) {
	items, err := s.match(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := fluid.SortEntities(items, spec.Orders, s.desc.Getter); err != nil {
		return nil, err
	}
	return fluid.Window(items, spec.Offset, spec.Limit), nil
}

// Count returns the number of entities matching the query filter
func (s *Store[T]) Count(ctx context.Context, spec fluid.QuerySpec) (int64, error) {
	items, err := s.match(ctx, spec)
	return int64(len(items)), err
}

func (s *Store[T]) match(ctx context.Context, spec fluid.QuerySpec) ([]*T, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	filter := spec.EffectiveFilter()
	matched := make([]*T, 0, len(all))
	for _, item := range all {
		ok, err := fluid.Evaluate(filter, s.desc.Getter(item))
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// loadAll reads every entity of the collection, pending writes included
func (s *Store[T]) loadAll(ctx context.Context) ([]*T, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, convertRedisError(err)
	}

	var items []*T
	var keys []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
		if doc, pending := s.pending(id); pending {
			if doc != nil {
				item, err := s.decode(doc)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			continue
		}
		keys = append(keys, s.docKey(id))
	}
	if s.tx != nil {
		for id, doc := range s.tx.docs {
			if seen[id] || doc == nil {
				continue
			}
			item, err := s.decode(doc)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}

	if len(keys) == 0 {
		return items, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, convertRedisError(err)
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// removed between SMEMBERS and MGET
			continue
		}
		item, err := s.decode([]byte(str))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// FindByID returns the entity with the given id
func (s *Store[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	doc, err := s.get(ctx, idString(id))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, notFound(id)
	}
	return s.decode(doc)
}

// Insert stores entity, assigning an id when it has none
func (s *Store[T]) Insert(ctx context.Context, entity *T) error {
	if s.desc.IsNew(entity) {
		id, err := s.nextID(ctx)
		if err != nil {
			return err
		}
		if err := s.desc.SetID(entity, id); err != nil {
			return err
		}
	} else if err := s.advanceSequence(ctx, s.desc.ID(entity)); err != nil {
		return err
	}

	id := s.desc.ID(entity)
	existing, err := s.get(ctx, idString(id))
	if err != nil {
		return err
	}
	if existing != nil {
		return fluid.Error{
			Type:    fluid.ErrorTypeDuplicate,
			Message: fmt.Sprintf("record %v already exists", id),
			ID:      id,
		}
	}
	return s.put(ctx, entity)
}

// Update replaces the stored entity
func (s *Store[T]) Update(ctx context.Context, entity *T) error {
	id := s.desc.ID(entity)
	existing, err := s.get(ctx, idString(id))
	if err != nil {
		return err
	}
	if existing == nil {
		return notFound(id)
	}
	return s.put(ctx, entity)
}

// UpdateFields sets the named fields on the stored entity
func (s *Store[T]) UpdateFields(ctx context.Context, id interface{}, fields map[string]interface{}) error {
	entity, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	for name, value := range fields {
		if err := s.desc.SetField(entity, name, value); err != nil {
			return err
		}
	}
	return s.put(ctx, entity)
}

// Delete removes the entity
func (s *Store[T]) Delete(ctx context.Context, id interface{}) error {
	key := idString(id)
	existing, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return notFound(id)
	}
	return s.write(ctx, map[string][]byte{key: nil})
}

// Transaction buffers the writes of fn and applies them in one MULTI/EXEC
// block when fn succeeds. Reads inside fn see the buffered writes. Generated
// integer ids are not returned to the sequence on rollback.
func (s *Store[T]) Transaction(ctx context.Context, fn func(tx fluid.Store[T]) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return fluid.NewErrorWithCause(fluid.ErrorTypeTimeout, "context done before transaction", err)
	}

	tx := *s
	tx.tx = &txState{docs: make(map[string][]byte)}
	if err := fn(&tx); err != nil {
		return err
	}
	if len(tx.tx.docs) == 0 {
		return nil
	}
	if err := s.write(ctx, tx.tx.docs); err != nil {
		return fluid.NewErrorWithCause(fluid.ErrorTypeTransaction, "failed to commit transaction", err)
	}
	return nil
}

// pending returns the buffered document for id. ok is false when the unit
// of work has not touched it.
func (s *Store[T]) pending(id string) (doc []byte, ok bool) {
	if s.tx == nil {
		return nil, false
	}
	doc, ok = s.tx.docs[id]
	return doc, ok
}

// get returns the raw document for id, or nil when there is none
func (s *Store[T]) get(ctx context.Context, id string) ([]byte, error) {
	if doc, ok := s.pending(id); ok {
		return doc, nil
	}
	doc, err := s.client.Get(ctx, s.docKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, convertRedisError(err)
	}
	return doc, nil
}

func (s *Store[T]) put(ctx context.Context, entity *T) error {
	doc, err := json.Marshal(entity)
	if err != nil {
		return fluid.NewErrorWithCause(fluid.ErrorTypeSerialization, "failed to encode entity", err)
	}
	return s.write(ctx, map[string][]byte{idString(s.desc.ID(entity)): doc})
}

// write buffers docs inside a unit of work and applies them atomically
// otherwise
func (s *Store[T]) write(ctx context.Context, docs map[string][]byte) error {
	if s.tx != nil {
		for id, doc := range docs {
			s.tx.docs[id] = doc
		}
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, doc := range docs {
			if doc == nil {
				pipe.Del(ctx, s.docKey(id))
				pipe.SRem(ctx, s.idsKey(), id)
				continue
			}
			pipe.Set(ctx, s.docKey(id), doc, 0)
			pipe.SAdd(ctx, s.idsKey(), id)
		}
		return nil
	})
	return convertRedisError(err)
}

func (s *Store[T]) decode(doc []byte) (*T, error) {
	entity := new(T)
	if err := json.Unmarshal(doc, entity); err != nil {
		return nil, fluid.NewErrorWithCause(fluid.ErrorTypeSerialization, "failed to decode entity", err)
	}
	return entity, nil
}

// =====================================
// ID Generation
// =====================================

// advanceScript raises the sequence to ARGV[1] when it is lower
var advanceScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local id = tonumber(ARGV[1])
if id > current then
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// nextID generates an id for the id field type: INCR on the sequence key for
// integers and a UUID for strings and uuid.UUID
func (s *Store[T]) nextID(ctx context.Context) (interface{}, error) {
	idType := s.desc.IDType()
	switch {
	case idType == reflect.TypeOf(uuid.UUID{}):
		return uuid.New(), nil
	case idType.Kind() == reflect.String:
		return reflect.ValueOf(uuid.NewString()).Convert(idType).Interface(), nil
	case isInteger(idType.Kind()):
		n, err := s.client.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return nil, convertRedisError(err)
		}
		return n, nil
	}
	return nil, fluid.NewError(fluid.ErrorTypeUnsupported,
		fmt.Sprintf("cannot generate ids of type %s", idType))
}

// advanceSequence moves the sequence past an explicitly assigned integer id
func (s *Store[T]) advanceSequence(ctx context.Context, id interface{}) error {
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
	return convertRedisError(advanceScript.Run(ctx, s.client, []string{s.seqKey()}, n).Err())
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// =====================================
// Error Handling
// =====================================

// convertRedisError converts Redis errors to fluid errors
func convertRedisError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case err == redis.Nil:
		return fluid.Error{
			Type:    fluid.ErrorTypeNotFound,
			Message: "key not found",
		}
	case err == redis.TxFailedErr:
		return fluid.Error{
			Type:    fluid.ErrorTypeTransaction,
			Message: "transaction aborted",
			Cause:   err,
		}
	case err == context.Canceled || err == context.DeadlineExceeded:
		return fluid.Error{
			Type:    fluid.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	}

	return fluid.Error{
		Type:    fluid.ErrorTypeDatabase,
		Message: "Redis operation failed",
		Cause:   err,
	}
}

func notFound(id interface{}) error {
	return fluid.Error{
		Type:    fluid.ErrorTypeNotFound,
		Message: "record not found",
		ID:      id,
	}
}

func init() {
	fluid.RegisterProviderFactory("redis", &Factory{})
}
