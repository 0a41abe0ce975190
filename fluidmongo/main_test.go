package fluidmongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
)

// testConfig reads the server from FLUID_MONGO_URI. Rollback checks run only
// when FLUID_MONGO_TRANSACTIONS=true, since standalone servers have no
// transactions.
func testConfig(t *testing.T) (fluid.Config, bool) {
	uri := os.Getenv("FLUID_MONGO_URI")
	if uri == "" {
		t.Skip("FLUID_MONGO_URI not set")
	}
	transactions := os.Getenv("FLUID_MONGO_TRANSACTIONS") == "true"
	return fluid.Config{
		ConnectionURL: uri,
		Database:      "fluid_test",
		Options: map[string]interface{}{
			"mongo": map[string]interface{}{
				"transactions":    transactions,
				"connect_timeout": 5 * time.Second,
			},
		},
	}, transactions
}

func TestMongoStoreSuite(t *testing.T) {
	config, transactions := testConfig(t)
	provider, err := Open(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = provider.Database().Drop(context.Background())
		provider.Close()
	})

	suite.Run(t, &storetest.Suite{
		NewStore: func(desc *fluid.Descriptor[storetest.Record]) (fluid.Store[storetest.Record], error) {
			return NewStore(provider, desc)
		},
		Reset: func() error {
			ctx := context.Background()
			if err := provider.Database().Collection("records").Drop(ctx); err != nil {
				return err
			}
			return provider.Database().Collection(countersCollection).Drop(ctx)
		},
		SkipRollback: !transactions,
	})
}

func TestMongoCounters(t *testing.T) {
	config, _ := testConfig(t)
	provider, err := Open(config)
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()
	store, err := NewStore(provider, fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	require.NoError(t, err)
	require.NoError(t, store.Collection().Drop(ctx))
	require.NoError(t, provider.Database().Collection(countersCollection).Drop(ctx))
	require.NoError(t, store.EnsureIndexes(ctx))

	require.NoError(t, store.Insert(ctx, &storetest.Record{ID: 41, Name: "explicit"}))
	next := &storetest.Record{Name: "generated"}
	require.NoError(t, store.Insert(ctx, next))
	assert.Equal(t, int64(42), next.ID)

	err = store.Insert(ctx, &storetest.Record{ID: 41})
	assert.True(t, fluid.IsDuplicate(err), "got %v", err)

	assert.True(t, fluid.IsNotFound(store.Delete(ctx, int64(404))))
	assert.True(t, fluid.IsNotFound(store.UpdateFields(ctx, int64(404), map[string]interface{}{"Rank": 1})))
}

func TestProviderFactory(t *testing.T) {
	assert.Contains(t, fluid.ProviderFactories(), "mongo")
	assert.Contains(t, (&Factory{}).SupportedDrivers(), "mongodb")
}

func TestBuildConnectionURI(t *testing.T) {
	cfg := fluid.Config{Host: "db", Username: "u", Password: "p", Database: "app"}
	assert.Equal(t, "mongodb://u:p@db:27017/app", buildConnectionURI(cfg))

	cfg.SSL = fluid.SSLConfig{Enabled: true, CAFile: "/ca.pem"}
	assert.Equal(t, "mongodb://u:p@db:27017/app?tls=true&tlsCAFile=/ca.pem", buildConnectionURI(cfg))

	assert.Equal(t, "mongodb://localhost:27017", buildConnectionURI(fluid.Config{}))
	assert.Equal(t, "mongodb+srv://x", buildConnectionURI(fluid.Config{ConnectionURL: "mongodb+srv://x"}))
}

func TestConvertMongoError(t *testing.T) {
	tests := []struct {
		err  error
		want fluid.ErrorType
	}{
		{mongo.ErrNoDocuments, fluid.ErrorTypeNotFound},
		{mongo.ErrNilDocument, fluid.ErrorTypeInvalidArgument},
		{context.DeadlineExceeded, fluid.ErrorTypeTimeout},
		{mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}, fluid.ErrorTypeDuplicate},
		{mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 121}}}, fluid.ErrorTypeConstraint},
		{mongo.CommandError{Code: 18}, fluid.ErrorTypeConnection},
		{mongo.CommandError{Code: 20}, fluid.ErrorTypeUnsupported},
		{mongo.CommandError{Code: 251}, fluid.ErrorTypeTransaction},
		{errors.New("server selection error"), fluid.ErrorTypeConnection},
		{errors.New("boom"), fluid.ErrorTypeDatabase},
	}
	for _, tt := range tests {
		assert.True(t, fluid.IsErrorType(convertMongoError(tt.err), tt.want), "%v", tt.err)
	}
	assert.NoError(t, convertMongoError(nil))

	original := fluid.NewError(fluid.ErrorTypeHook, "kept")
	assert.Equal(t, original, convertMongoError(original))
}
