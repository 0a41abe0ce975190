package fluidredis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testPrefix = "fluid_test:"

// openTestProvider connects to FLUID_REDIS_ADDR (host:port) on database 15
func openTestProvider(t *testing.T) *Provider {
	addr := os.Getenv("FLUID_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLUID_REDIS_ADDR not set")
	}
	provider, err := Open(fluid.Config{
		ConnectionURL: "redis://" + addr + "/15",
		Options: map[string]interface{}{
			"redis": map[string]interface{}{
				"key_prefix":   testPrefix,
				"dial_timeout": 2 * time.Second,
			},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		clearKeys(provider)
		provider.Close()
	})
	return provider
}

func clearKeys(p *Provider) error {
	ctx := context.Background()
	keys, err := p.Client().Keys(ctx, testPrefix+"*").Result()
	if err != nil || len(keys) == 0 {
		return err
	}
	return p.Client().Del(ctx, keys...).Err()
}

func TestRedisStoreSuite(t *testing.T) {
	provider := openTestProvider(t)

	suite.Run(t, &storetest.Suite{
		NewStore: func(desc *fluid.Descriptor[storetest.Record]) (fluid.Store[storetest.Record], error) {
			return NewStore(provider, desc)
		},
		Reset: func() error { return clearKeys(provider) },
		NewTokenStore: func(desc *fluid.Descriptor[storetest.Token]) (fluid.Store[storetest.Token], error) {
			return NewStore(provider, desc)
		},
	})
}

func TestKeysAndSequence(t *testing.T) {
	provider := openTestProvider(t)
	ctx := context.Background()
	require.NoError(t, clearKeys(provider))

	store, err := NewStore(provider, fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	require.NoError(t, err)

	require.NoError(t, store.Insert(ctx, &storetest.Record{ID: 41, Name: "explicit"}))
	next := &storetest.Record{Name: "generated"}
	require.NoError(t, store.Insert(ctx, next))
	assert.Equal(t, int64(42), next.ID)

	members, err := provider.Client().SMembers(ctx, testPrefix+"records:ids").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"41", "42"}, members)

	raw, err := provider.Client().Get(ctx, testPrefix+"records:42").Result()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42,"name":"generated","category":"","rank":0,"is_deleted":false}`, raw)

	assert.True(t, fluid.IsDuplicate(store.Insert(ctx, &storetest.Record{ID: 41})))
	require.NoError(t, store.Delete(ctx, int64(41)))
	assert.True(t, fluid.IsNotFound(store.Delete(ctx, int64(41))))
}

func TestTransactionBuffersWrites(t *testing.T) {
	provider := openTestProvider(t)
	ctx := context.Background()
	require.NoError(t, clearKeys(provider))

	store, err := NewStore(provider, fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	require.NoError(t, err)

	failure := errors.New("abort")
	err = store.Transaction(ctx, func(tx fluid.Store[storetest.Record]) error {
		require.NoError(t, tx.Insert(ctx, &storetest.Record{ID: 1, Name: "pending"}))

		// visible inside the unit of work only
		n, err := tx.Count(ctx, fluid.QuerySpec{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		exists, err := provider.Client().Exists(ctx, testPrefix+"records:1").Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
		return failure
	})
	assert.ErrorIs(t, err, failure)

	_, err = store.FindByID(ctx, int64(1))
	assert.True(t, fluid.IsNotFound(err))

	require.NoError(t, store.Transaction(ctx, func(tx fluid.Store[storetest.Record]) error {
		return tx.Insert(ctx, &storetest.Record{ID: 1, Name: "committed"})
	}))
	got, err := store.FindByID(ctx, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "committed", got.Name)
}

func TestBuildOptions(t *testing.T) {
	opts := buildOptions(fluid.Config{
		Host:         "cache",
		Port:         6380,
		Database:     "3",
		Password:     "secret",
		MaxOpenConns: 20,
		Options: map[string]interface{}{
			"redis": map[string]interface{}{"read_timeout": time.Second},
		},
	})
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, time.Second, opts.ReadTimeout)

	opts = buildOptions(fluid.Config{ConnectionURL: "redis://:pw@other:6379/2"})
	assert.Equal(t, "other:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "pw", opts.Password)

	assert.Equal(t, "localhost:6379", buildOptions(fluid.Config{}).Addr)
}

func TestConvertRedisError(t *testing.T) {
	assert.NoError(t, convertRedisError(nil))
	assert.True(t, fluid.IsNotFound(convertRedisError(redis.Nil)))
	assert.True(t, fluid.IsErrorType(convertRedisError(redis.TxFailedErr), fluid.ErrorTypeTransaction))
	assert.True(t, fluid.IsErrorType(convertRedisError(context.DeadlineExceeded), fluid.ErrorTypeTimeout))
	assert.True(t, fluid.IsErrorType(convertRedisError(errors.New("ERR")), fluid.ErrorTypeDatabase))
}

func TestProviderFactory(t *testing.T) {
	assert.Contains(t, fluid.ProviderFactories(), "redis")
	assert.Equal(t, []string{"redis"}, (&Factory{}).SupportedDrivers())

	p := NewProvider(redis.NewClient(&redis.Options{}), fluid.Config{})
	assert.Equal(t, fluid.DatabaseTypeKV, p.ProviderInfo().DatabaseType)
	assert.True(t, fluid.HasFeature(p, fluid.FeatureTransactions))
}
