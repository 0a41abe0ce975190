package fluidgorm

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func sqliteConfig() fluid.Config {
	return fluid.Config{
		Driver:       "sqlite",
		Database:     ":memory:",
		MaxOpenConns: 1,
		Options: map[string]interface{}{
			"gorm": map[string]interface{}{
				"log_level": "silent",
			},
		},
	}
}

func TestGormStoreSuite(t *testing.T) {
	provider, err := Open(sqliteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })
	require.NoError(t, provider.Migrate(context.Background(), &storetest.Record{}))

	suite.Run(t, &storetest.Suite{
		NewStore: func(desc *fluid.Descriptor[storetest.Record]) (fluid.Store[storetest.Record], error) {
			return NewStore(provider, desc)
		},
		Reset: func() error {
			return provider.DB().Exec("DELETE FROM records").Error
		},
	})
}

// =====================================
// Provider Tests
// =====================================

type GormProviderTestSuite struct {
	suite.Suite
	provider *Provider
	ctx      context.Context
}

func (suite *GormProviderTestSuite) SetupTest() {
	provider, err := Open(sqliteConfig())
	suite.Require().NoError(err)
	suite.provider = provider
	suite.ctx = context.Background()
	suite.Require().NoError(provider.Migrate(suite.ctx, &storetest.Record{}, &token{}))
}

func (suite *GormProviderTestSuite) TearDownTest() {
	suite.provider.Close()
}

func (suite *GormProviderTestSuite) TestProviderFactory() {
	assert.Contains(suite.T(), fluid.ProviderFactories(), "gorm")

	factory := &Factory{}
	assert.Contains(suite.T(), factory.SupportedDrivers(), "sqlite")

	_, err := factory.Create(fluid.Config{Driver: "oracle"})
	assert.True(suite.T(), fluid.IsErrorType(err, fluid.ErrorTypeUnsupported))

	provider, err := fluid.OpenProvider("gorm", sqliteConfig())
	suite.Require().NoError(err)
	defer provider.Close()
	assert.NoError(suite.T(), provider.Health())
}

func (suite *GormProviderTestSuite) TestProviderInfo() {
	info := suite.provider.ProviderInfo()
	assert.Equal(suite.T(), "GORM", info.Name)
	assert.Equal(suite.T(), fluid.DatabaseTypeSQL, info.DatabaseType)
	assert.True(suite.T(), fluid.HasFeature(suite.provider, fluid.FeatureMigration))
}

func (suite *GormProviderTestSuite) TestDuplicateInsert() {
	store, err := NewStore(suite.provider, fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	suite.Require().NoError(err)

	suite.Require().NoError(store.Insert(suite.ctx, &storetest.Record{ID: 7, Name: "first"}))
	err = store.Insert(suite.ctx, &storetest.Record{ID: 7, Name: "second"})
	assert.True(suite.T(), fluid.IsDuplicate(err), "expected duplicate, got %v", err)
}

func (suite *GormProviderTestSuite) TestMissingRows() {
	store, err := NewStore(suite.provider, fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	suite.Require().NoError(err)

	_, err = store.FindByID(suite.ctx, int64(404))
	assert.True(suite.T(), fluid.IsNotFound(err))
	assert.True(suite.T(), fluid.IsNotFound(store.Update(suite.ctx, &storetest.Record{ID: 404})))
	assert.True(suite.T(), fluid.IsNotFound(store.UpdateFields(suite.ctx, int64(404), map[string]interface{}{"Name": "x"})))
	assert.True(suite.T(), fluid.IsNotFound(store.Delete(suite.ctx, int64(404))))
}

func (suite *GormProviderTestSuite) TestUnchangedUpdateIsNotMissing() {
	store, err := NewStore(suite.provider, fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	suite.Require().NoError(err)

	r := &storetest.Record{Name: "same"}
	suite.Require().NoError(store.Insert(suite.ctx, r))
	assert.NoError(suite.T(), store.Update(suite.ctx, r))
	assert.NoError(suite.T(), store.Update(suite.ctx, r))
}

// token has a generated string id
type token struct {
	Value string `gorm:"primaryKey;size:36"`
	Owner string
}

func (suite *GormProviderTestSuite) TestStringIDsAreGenerated() {
	desc := fluid.MustDescriptor[token](fluid.CollectionOptions{IDField: "Value"})
	store, err := NewStore(suite.provider, desc)
	suite.Require().NoError(err)

	repo := fluid.MustRegister(fluid.NewRegistry(), desc, store)
	saved, err := repo.Save(suite.ctx, &token{Owner: "ada"})
	suite.Require().NoError(err)
	assert.Len(suite.T(), saved.Value, 36)

	got, found, err := repo.Get(suite.ctx, saved.Value)
	suite.Require().NoError(err)
	assert.True(suite.T(), found)
	assert.Equal(suite.T(), "ada", got.Owner)
}

func (suite *GormProviderTestSuite) TestIgnoredFieldIsNotQueryable() {
	type draft struct {
		ID    int64
		Title string
		Notes string `gorm:"-"`
	}
	desc := fluid.MustDescriptor[draft](fluid.CollectionOptions{Alias: "drafts", IDField: "ID"})
	store, err := NewStore(suite.provider, desc)
	suite.Require().NoError(err)

	_, err = store.Count(suite.ctx, fluid.QuerySpec{Filter: fluid.Where("Notes", fluid.OpEqual, "x")})
	assert.True(suite.T(), fluid.IsConfiguration(err))
}

func TestGormProviderTestSuite(t *testing.T) {
	suite.Run(t, new(GormProviderTestSuite))
}

// =====================================
// Generated SQL
// =====================================

func newMockStore(t *testing.T) (fluid.Repository[storetest.Record], *fluid.Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	provider, err := OpenDialector(postgres.New(postgres.Config{Conn: db}), fluid.Config{
		Options: map[string]interface{}{"gorm": map[string]interface{}{"log_level": "silent"}},
	})
	require.NoError(t, err)

	desc := fluid.MustDescriptor[storetest.Record](storetest.SoftDeleteOptions())
	store, err := NewStore(provider, desc)
	require.NoError(t, err)

	registry := fluid.NewRegistry()
	return fluid.MustRegister(registry, desc, store), registry, mock
}

func TestListPagedSQL(t *testing.T) {
	repo, _, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "records" WHERE .*"category" = \$1.*"is_deleted" = \$2`).
		WithArgs("x", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT \* FROM "records" WHERE .*"category" = \$1.*"is_deleted" = \$2.* ORDER BY "rank" DESC,"id" LIMIT .* OFFSET`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "category", "rank", "is_deleted"}).
			AddRow(4, "d", "x", 9, false).
			AddRow(2, "b", "x", 8, false))
	mock.ExpectCommit()

	page, err := repo.ListPaged(context.Background(), fluid.QueryRequest{
		Filter:   fluid.Where("Category", fluid.OpEqual, "x"),
		Sort:     &fluid.Order{Field: "Rank", Direction: fluid.Descending},
		Page:     2,
		PageSize: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), page.TotalItems)
	assert.Equal(t, int64(3), page.TotalPages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "d", page.Items[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelledSaveRollsBack(t *testing.T) {
	repo, registry, mock := newMockStore(t)
	registry.Hooks().OnSaving(fluid.SavingFor(func(ctx context.Context, before, after *storetest.Record) (*storetest.Record, bool, error) {
		return after, true, nil
	}))

	mock.ExpectBegin()
	mock.ExpectRollback()

	r := &storetest.Record{Name: "never"}
	out, err := repo.Save(context.Background(), r)
	require.NoError(t, err)
	assert.Same(t, r, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseErrorsAreConverted(t *testing.T) {
	repo, _, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "records"`).WillReturnError(errors.New("connection refused"))
	mock.ExpectRollback()

	_, err := repo.Count(context.Background())
	require.Error(t, err)
	assert.True(t, fluid.IsErrorType(err, fluid.ErrorTypeConnection), "got %v", err)

	var ferr fluid.Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "records", ferr.Collection)
	assert.Equal(t, fluid.OperationCount, ferr.Operation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConvertGormError(t *testing.T) {
	tests := []struct {
		err  error
		want fluid.ErrorType
	}{
		{gorm.ErrRecordNotFound, fluid.ErrorTypeNotFound},
		{gorm.ErrDuplicatedKey, fluid.ErrorTypeDuplicate},
		{gorm.ErrForeignKeyViolated, fluid.ErrorTypeConstraint},
		{gorm.ErrInvalidTransaction, fluid.ErrorTypeTransaction},
		{gorm.ErrMissingWhereClause, fluid.ErrorTypeInvalidArgument},
		{context.DeadlineExceeded, fluid.ErrorTypeTimeout},
		{errors.New("UNIQUE constraint failed: records.id"), fluid.ErrorTypeDuplicate},
		{errors.New("syntax error"), fluid.ErrorTypeDatabase},
	}
	for _, tt := range tests {
		assert.True(t, fluid.IsErrorType(convertGormError(tt.err), tt.want), "%v", tt.err)
	}
	assert.NoError(t, convertGormError(nil))

	original := fluid.NewError(fluid.ErrorTypeHook, "kept")
	assert.Equal(t, original, convertGormError(original))
}

func TestDSNBuilders(t *testing.T) {
	cfg := fluid.Config{Host: "db", Port: 5432, Username: "u", Password: "p", Database: "app"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=app sslmode=disable", buildPostgresDSN(cfg))

	cfg.SSL = fluid.SSLConfig{Enabled: true, Mode: "require", CAFile: "/ca.pem"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=app sslmode=require sslrootcert=/ca.pem", buildPostgresDSN(cfg))

	cfg.Port = 3306
	cfg.SSL = fluid.SSLConfig{}
	assert.Equal(t, "u:p@tcp(db:3306)/app?charset=utf8mb4&parseTime=True&loc=Local", buildMySQLDSN(cfg))

	cfg.Port = 1433
	assert.Equal(t, "sqlserver://u:p@db:1433?database=app", buildSQLServerDSN(cfg))

	cfg.ConnectionURL = "postgres://override"
	assert.Equal(t, "postgres://override", buildPostgresDSN(cfg))
}
