package fluidbun

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/internal/storetest"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func sqliteConfig(driver string) fluid.Config {
	return fluid.Config{
		Driver:       driver,
		Database:     ":memory:",
		MaxOpenConns: 1,
		Options: map[string]interface{}{
			"bun": map[string]interface{}{
				"log_level": "silent",
			},
		},
	}
}

func runStoreSuite(t *testing.T, driver string) {
	provider, err := Open(sqliteConfig(driver))
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })
	require.NoError(t, provider.Migrate(context.Background(), (*storetest.Record)(nil)))

	suite.Run(t, &storetest.Suite{
		NewStore: func(desc *fluid.Descriptor[storetest.Record]) (fluid.Store[storetest.Record], error) {
			return NewStore(provider, desc)
		},
		Reset: func() error {
			_, err := provider.DB().ExecContext(context.Background(), "DELETE FROM records")
			return err
		},
	})
}

func TestBunStoreSuiteSQLite(t *testing.T) {
	runStoreSuite(t, "sqlite3")
}

func TestBunStoreSuitePureSQLite(t *testing.T) {
	runStoreSuite(t, "sqlite-pure")
}

// =====================================
// Provider Tests
// =====================================

type BunProviderTestSuite struct {
	suite.Suite
	provider *Provider
	store    *Store[storetest.Record]
	ctx      context.Context
}

func (suite *BunProviderTestSuite) SetupTest() {
	provider, err := Open(sqliteConfig("sqlite3"))
	suite.Require().NoError(err)
	suite.provider = provider
	suite.ctx = context.Background()
	suite.Require().NoError(provider.Migrate(suite.ctx, (*storetest.Record)(nil)))

	suite.store, err = NewStore(provider, fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	suite.Require().NoError(err)
}

func (suite *BunProviderTestSuite) TearDownTest() {
	suite.provider.Close()
}

func (suite *BunProviderTestSuite) TestProviderFactory() {
	assert.Contains(suite.T(), fluid.ProviderFactories(), "bun")

	factory := &Factory{}
	assert.Contains(suite.T(), factory.SupportedDrivers(), "sqlite-pure")

	_, err := factory.Create(fluid.Config{Driver: "oracle"})
	assert.True(suite.T(), fluid.IsErrorType(err, fluid.ErrorTypeUnsupported))

	provider, err := fluid.OpenProvider("bun", sqliteConfig("sqlite-pure"))
	suite.Require().NoError(err)
	defer provider.Close()
	assert.NoError(suite.T(), provider.Health())
	assert.Equal(suite.T(), "Bun", provider.ProviderInfo().Name)
}

func (suite *BunProviderTestSuite) TestDuplicateInsert() {
	suite.Require().NoError(suite.store.Insert(suite.ctx, &storetest.Record{ID: 3, Name: "first"}))
	err := suite.store.Insert(suite.ctx, &storetest.Record{ID: 3, Name: "second"})
	assert.True(suite.T(), fluid.IsDuplicate(err), "expected duplicate, got %v", err)
}

func (suite *BunProviderTestSuite) TestAutoIncrementIDs() {
	first := &storetest.Record{Name: "a"}
	second := &storetest.Record{Name: "b"}
	suite.Require().NoError(suite.store.Insert(suite.ctx, first))
	suite.Require().NoError(suite.store.Insert(suite.ctx, second))
	assert.NotZero(suite.T(), first.ID)
	assert.Greater(suite.T(), second.ID, first.ID)
}

func (suite *BunProviderTestSuite) TestMissingRows() {
	_, err := suite.store.FindByID(suite.ctx, int64(404))
	assert.True(suite.T(), fluid.IsNotFound(err))
	assert.True(suite.T(), fluid.IsNotFound(suite.store.Update(suite.ctx, &storetest.Record{ID: 404})))
	assert.True(suite.T(), fluid.IsNotFound(suite.store.UpdateFields(suite.ctx, int64(404), map[string]interface{}{"Rank": 1})))
	assert.True(suite.T(), fluid.IsNotFound(suite.store.Delete(suite.ctx, int64(404))))
}

func (suite *BunProviderTestSuite) TestUpdateFields() {
	r := &storetest.Record{Name: "before", Rank: 1}
	suite.Require().NoError(suite.store.Insert(suite.ctx, r))

	suite.Require().NoError(suite.store.UpdateFields(suite.ctx, r.ID, map[string]interface{}{"Name": "after", "Rank": 5}))
	got, err := suite.store.FindByID(suite.ctx, r.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "after", got.Name)
	assert.Equal(suite.T(), 5, got.Rank)

	err = suite.store.UpdateFields(suite.ctx, r.ID, map[string]interface{}{"Missing": 1})
	assert.True(suite.T(), fluid.IsConfiguration(err))
}

func TestBunProviderTestSuite(t *testing.T) {
	suite.Run(t, new(BunProviderTestSuite))
}

// =====================================
// Generated SQL
// =====================================

func TestListPagedSQL(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	provider := NewProvider(bun.NewDB(db, pgdialect.New()), fluid.Config{})
	desc := fluid.MustDescriptor[storetest.Record](storetest.SoftDeleteOptions())
	store, err := NewStore(provider, desc)
	require.NoError(t, err)
	repo := fluid.MustRegister(fluid.NewRegistry(), desc, store)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "records" AS "record" WHERE .*"name" IN \('a', 'b'\).*"is_deleted" = FALSE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`FROM "records" AS "record" WHERE .*"name" IN \('a', 'b'\).* ORDER BY "name" ASC, "id" ASC LIMIT 10`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "category", "rank", "is_deleted"}).
			AddRow(1, "a", "", 0, false).
			AddRow(2, "b", "", 0, false))
	mock.ExpectCommit()

	page, err := repo.ListPaged(context.Background(), fluid.QueryRequest{
		Filter: fluid.WhereIn("Name", "a", "b"),
		Page:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.TotalItems)
	assert.Equal(t, int64(1), page.TotalPages)
	assert.Equal(t, 10, page.PageSize)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "b", page.Items[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConvertBunError(t *testing.T) {
	tests := []struct {
		err  error
		want fluid.ErrorType
	}{
		{sql.ErrNoRows, fluid.ErrorTypeNotFound},
		{sql.ErrTxDone, fluid.ErrorTypeTransaction},
		{context.Canceled, fluid.ErrorTypeTimeout},
		{&pq.Error{Code: "23505"}, fluid.ErrorTypeDuplicate},
		{&pq.Error{Code: "23503"}, fluid.ErrorTypeConstraint},
		{&mysql.MySQLError{Number: 1062}, fluid.ErrorTypeDuplicate},
		{&mysql.MySQLError{Number: 1452}, fluid.ErrorTypeConstraint},
		{errors.New("constraint failed: UNIQUE constraint failed: records.id (1555)"), fluid.ErrorTypeDuplicate},
		{errors.New("no such table: records"), fluid.ErrorTypeDatabase},
	}
	for _, tt := range tests {
		assert.True(t, fluid.IsErrorType(convertBunError(tt.err), tt.want), "%v", tt.err)
	}
	assert.NoError(t, convertBunError(nil))
}

func TestDSNBuilders(t *testing.T) {
	cfg := fluid.Config{Host: "db", Port: 5432, Username: "u", Password: "p", Database: "app"}
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable", buildPostgresDSN(cfg))

	cfg.SSL = fluid.SSLConfig{Enabled: true, Mode: "verify-full"}
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=verify-full", buildPostgresDSN(cfg))

	cfg.Port = 3306
	cfg.SSL = fluid.SSLConfig{}
	assert.Equal(t, "u:p@tcp(db:3306)/app?parseTime=true", buildMySQLDSN(cfg))
}
