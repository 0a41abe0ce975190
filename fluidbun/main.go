// Package fluidbun provides a Bun store for fluid collections
package fluidbun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/internal/sqlcond"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"
)

// =====================================
// Provider Implementation
// =====================================

// Provider implements fluid.Provider using Bun
type Provider struct {
	db     *bun.DB
	config fluid.Config
}

// Factory implements fluid.ProviderFactory
type Factory struct{}

// Create creates a new Bun provider instance
func (f *Factory) Create(config fluid.Config) (fluid.Provider, error) {
	return Open(config)
}

// SupportedDrivers returns the list of supported database drivers.
// "pgdriver" uses Bun's own Postgres driver instead of lib/pq and
// "sqlite-pure" uses the cgo-free modernc SQLite.
func (f *Factory) SupportedDrivers() []string {
	return []string{"postgres", "postgresql", "pgdriver", "mysql", "sqlite", "sqlite3", "sqlite-pure"}
}

// Open connects to the database described by config
func Open(config fluid.Config) (*Provider, error) {
	var sqlDB *sql.DB
	var dialect schema.Dialect
	var err error

	switch strings.ToLower(config.Driver) {
	case "postgres", "postgresql":
		sqlDB, err = sql.Open("postgres", buildPostgresDSN(config))
		dialect = pgdialect.New()
	case "pgdriver":
		sqlDB = sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(buildPostgresDSN(config))))
		dialect = pgdialect.New()
	case "mysql":
		sqlDB, err = sql.Open("mysql", buildMySQLDSN(config))
		dialect = mysqldialect.New()
	case "sqlite", "sqlite3":
		sqlDB, err = sql.Open("sqlite3", config.Database)
		dialect = sqlitedialect.New()
	case "sqlite-pure":
		sqlDB, err = sql.Open("sqlite", config.Database)
		dialect = sqlitedialect.New()
	default:
		return nil, fluid.Error{
			Type:    fluid.ErrorTypeUnsupported,
			Message: fmt.Sprintf("unsupported driver: %s", config.Driver),
		}
	}
	if err != nil {
		return nil, fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "failed to connect to database",
			Cause:   err,
		}
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	return NewProvider(bun.NewDB(sqlDB, dialect), config), nil
}

// NewProvider wraps an existing Bun handle
func NewProvider(db *bun.DB, config fluid.Config) *Provider {
	// Add query hook for logging if enabled
	if logLevel, ok := config.AdapterOptions("bun")["log_level"].(string); ok && logLevel != "silent" {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(logLevel == "debug"),
		))
	}
	return &Provider{db: db, config: config}
}

// DB returns the underlying Bun handle
func (p *Provider) DB() *bun.DB {
	return p.db
}

// Migrate creates the tables of the given models when they do not exist
func (p *Provider) Migrate(ctx context.Context, models ...interface{}) error {
	for _, model := range models {
		if _, err := p.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return convertBunError(err)
		}
	}
	return nil
}

// Health checks the database connection health
func (p *Provider) Health() error {
	if err := p.db.Ping(); err != nil {
		return convertBunError(err)
	}
	return nil
}

// Close closes the database connection
func (p *Provider) Close() error {
	return p.db.Close()
}

// SupportedFeatures returns the list of supported features
func (p *Provider) SupportedFeatures() []fluid.Feature {
	return []fluid.Feature{
		fluid.FeatureTransactions,
		fluid.FeatureIndexing,
		fluid.FeatureRawSQL,
		fluid.FeatureMigration,
	}
}

// ProviderInfo returns information about this provider
func (p *Provider) ProviderInfo() fluid.ProviderInfo {
	return fluid.ProviderInfo{
		Name:         "Bun",
		Version:      "1.0.0",
		DatabaseType: fluid.DatabaseTypeSQL,
		Features:     p.SupportedFeatures(),
	}
}

// =====================================
// Store Implementation
// =====================================

// Store implements fluid.Store[T] with Bun. T must be a Bun model.
type Store[T any] struct {
	db       bun.IDB
	desc     *fluid.Descriptor[T]
	columns  map[string]string // Go field name -> column
	idColumn string
	inTx     bool
}

var _ fluid.Store[struct{}] = (*Store[struct{}])(nil)

// NewStore creates the store of a collection. Column names come from the Bun
// table of T.
func NewStore[T any](p *Provider, desc *fluid.Descriptor[T]) (*Store[T], error) {
	table := p.db.Table(reflect.TypeOf((*T)(nil)).Elem())

	columns := make(map[string]string, len(table.Fields))
	for _, field := range table.Fields {
		columns[field.GoName] = field.Name
	}
	idColumn, ok := columns[desc.IDField()]
	if !ok {
		return nil, fluid.NewError(fluid.ErrorTypeConfiguration,
			fmt.Sprintf("collection %q: id field %s is not a column", desc.Alias(), desc.IDField()))
	}
	return &Store[T]{db: p.db, desc: desc, columns: columns, idColumn: idColumn}, nil
}

func (s *Store[T]) column(field string) (bun.Ident, error) {
	name, ok := s.columns[field]
	if !ok {
		return "", fluid.NewError(fluid.ErrorTypeConfiguration,
			fmt.Sprintf("collection %q: field %s is not a column", s.desc.Alias(), field))
	}
	return bun.Ident(name), nil
}

func (s *Store[T]) dialect() sqlcond.Dialect {
	return sqlcond.Dialect{
		Column: func(field string) (interface{}, error) {
			return s.column(field)
		},
		List:            func(values []interface{}) interface{} { return bun.In(values) },
		ListPlaceholder: "(?)",
	}
}

func (s *Store[T]) filter(spec fluid.QuerySpec) (sqlcond.Fragment, error) {
	return sqlcond.Render(spec.EffectiveFilter(), s.dialect())
}

// Find returns the rows matching the query, ordered and windowed
func (s *Store[T]) Find(ctx context.Context, spec fluid.QuerySpec) ([]*T, error) {
	frag, err := s.filter(spec)
	if err != nil {
		return nil, err
	}

	items := make([]*T, 0)
	q := s.db.NewSelect().Model(&items)
	if !frag.Empty() {
		q = q.Where(frag.SQL, frag.Args...)
	}
	for _, order := range spec.Orders {
		column, err := s.column(order.Field)
		if err != nil {
			return nil, err
		}
		if order.Direction == fluid.Descending {
			q = q.OrderExpr("? DESC", column)
		} else {
			q = q.OrderExpr("? ASC", column)
		}
	}
	if spec.Paged() {
		q = q.Offset(spec.Offset).Limit(spec.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, convertBunError(err)
	}
	return items, nil
}

// Count returns the number of rows matching the query filter
func (s *Store[T]) Count(ctx context.Context, spec fluid.QuerySpec) (int64, error) {
	frag, err := s.filter(spec)
	if err != nil {
		return 0, err
	}
	q := s.db.NewSelect().Model((*T)(nil))
	if !frag.Empty() {
		q = q.Where(frag.SQL, frag.Args...)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, convertBunError(err)
	}
	return int64(count), nil
}

// FindByID loads one row by primary key
func (s *Store[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	entity := new(T)
	err := s.db.NewSelect().Model(entity).
		Where("? = ?", bun.Ident(s.idColumn), id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, convertBunError(err)
	}
	return entity, nil
}

// Insert creates the row. Integer ids are left to the database; string and
// UUID ids are generated here.
func (s *Store[T]) Insert(ctx context.Context, entity *T) error {
	if s.desc.IsNew(entity) {
		if id, ok := generatedID(s.desc.IDType()); ok {
			if err := s.desc.SetID(entity, id); err != nil {
				return err
			}
		}
	}
	_, err := s.db.NewInsert().Model(entity).Exec(ctx)
	return convertBunError(err)
}

// Update writes every column of entity
func (s *Store[T]) Update(ctx context.Context, entity *T) error {
	result, err := s.db.NewUpdate().Model(entity).WherePK().Exec(ctx)
	if err != nil {
		return convertBunError(err)
	}
	return s.checkAffected(ctx, result, s.desc.ID(entity))
}

// UpdateFields sets the given fields, keyed by Go field name
func (s *Store[T]) UpdateFields(ctx context.Context, id interface{}, fields map[string]interface{}) error {
	q := s.db.NewUpdate().Model((*T)(nil)).Where("? = ?", bun.Ident(s.idColumn), id)
	for name, value := range fields {
		column, err := s.column(name)
		if err != nil {
			return err
		}
		q = q.Set("? = ?", column, value)
	}
	result, err := q.Exec(ctx)
	if err != nil {
		return convertBunError(err)
	}
	return s.checkAffected(ctx, result, id)
}

// Delete removes the row physically
func (s *Store[T]) Delete(ctx context.Context, id interface{}) error {
	result, err := s.db.NewDelete().Model((*T)(nil)).
		Where("? = ?", bun.Ident(s.idColumn), id).
		Exec(ctx)
	if err != nil {
		return convertBunError(err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

// checkAffected tells "no such row" from "nothing changed", which MySQL
// reports the same way.
func (s *Store[T]) checkAffected(ctx context.Context, result sql.Result, id interface{}) error {
	if n, err := result.RowsAffected(); err != nil || n > 0 {
		return nil
	}
	exists, err := s.db.NewSelect().Model((*T)(nil)).
		Where("? = ?", bun.Ident(s.idColumn), id).
		Exists(ctx)
	if err != nil {
		return convertBunError(err)
	}
	if !exists {
		return notFound(id)
	}
	return nil
}

// Transaction runs fn inside a database transaction
func (s *Store[T]) Transaction(ctx context.Context, fn func(tx fluid.Store[T]) error) error {
	if s.inTx {
		return fn(s)
	}

	var fnErr error
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		fnErr = fn(&Store[T]{db: tx, desc: s.desc, columns: s.columns, idColumn: s.idColumn, inTx: true})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fluid.NewErrorWithCause(fluid.ErrorTypeTransaction, "transaction failed", convertBunError(err))
	}
	return nil
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

func notFound(id interface{}) error {
	return fluid.Error{
		Type:    fluid.ErrorTypeNotFound,
		Message: "record not found",
		ID:      id,
	}
}

// =====================================
// Error Conversion
// =====================================

// convertBunError converts driver errors to fluid errors
func convertBunError(err error) error {
	if err == nil {
		return nil
	}
	var ferr fluid.Error
	if errors.As(err, &ferr) {
		return err
	}

	var (
		pgErr     pgdriver.Error
		pqErr     *pq.Error
		mysqlErr  *mysql.MySQLError
		sqliteErr sqlite3.Error
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fluid.Error{Type: fluid.ErrorTypeNotFound, Message: "record not found", Cause: err}
	case errors.Is(err, sql.ErrTxDone):
		return fluid.Error{Type: fluid.ErrorTypeTransaction, Message: "transaction already finished", Cause: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fluid.Error{Type: fluid.ErrorTypeTimeout, Message: "operation timeout", Cause: err}
	case errors.As(err, &pgErr):
		if pgErr.Field('C') == "23505" {
			return fluid.Error{Type: fluid.ErrorTypeDuplicate, Message: "duplicate key violation", Cause: err}
		}
		if pgErr.IntegrityViolation() {
			return fluid.Error{Type: fluid.ErrorTypeConstraint, Message: "constraint violation", Cause: err}
		}
		if pgErr.StatementTimeout() {
			return fluid.Error{Type: fluid.ErrorTypeTimeout, Message: "operation timeout", Cause: err}
		}
	case errors.As(err, &pqErr):
		if pqErr.Code == "23505" {
			return fluid.Error{Type: fluid.ErrorTypeDuplicate, Message: "duplicate key violation", Cause: err}
		}
		if pqErr.Code.Class() == "23" {
			return fluid.Error{Type: fluid.ErrorTypeConstraint, Message: "constraint violation", Cause: err}
		}
	case errors.As(err, &mysqlErr):
		switch mysqlErr.Number {
		case 1062:
			return fluid.Error{Type: fluid.ErrorTypeDuplicate, Message: "duplicate key violation", Cause: err}
		case 1451, 1452:
			return fluid.Error{Type: fluid.ErrorTypeConstraint, Message: "constraint violation", Cause: err}
		}
	case errors.As(err, &sqliteErr):
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fluid.Error{Type: fluid.ErrorTypeDuplicate, Message: "duplicate key violation", Cause: err}
		}
		if sqliteErr.Code == sqlite3.ErrConstraint {
			return fluid.Error{Type: fluid.ErrorTypeConstraint, Message: "constraint violation", Cause: err}
		}
	}

	// modernc and anything else are matched on the message
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "duplicate") || strings.Contains(errStr, "unique"):
		return fluid.Error{Type: fluid.ErrorTypeDuplicate, Message: "duplicate key violation", Cause: err}
	case strings.Contains(errStr, "foreign key") || strings.Contains(errStr, "constraint"):
		return fluid.Error{Type: fluid.ErrorTypeConstraint, Message: "constraint violation", Cause: err}
	case strings.Contains(errStr, "timeout"):
		return fluid.Error{Type: fluid.ErrorTypeTimeout, Message: "operation timeout", Cause: err}
	case strings.Contains(errStr, "connection"):
		return fluid.Error{Type: fluid.ErrorTypeConnection, Message: "connection error", Cause: err}
	}
	return fluid.Error{
		Type:    fluid.ErrorTypeDatabase,
		Message: "database operation failed",
		Cause:   err,
	}
}

// =====================================
// Connection Helpers
// =====================================

// buildPostgresDSN builds a PostgreSQL URL
func buildPostgresDSN(config fluid.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	mode := "disable"
	if config.SSL.Enabled {
		mode = config.SSL.Mode
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		config.Username, config.Password, config.Host, config.Port, config.Database, mode)
}

// buildMySQLDSN builds a MySQL DSN
func buildMySQLDSN(config fluid.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	mysqlConfig := mysql.NewConfig()
	mysqlConfig.User = config.Username
	mysqlConfig.Passwd = config.Password
	mysqlConfig.Net = "tcp"
	mysqlConfig.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	mysqlConfig.DBName = config.Database
	mysqlConfig.ParseTime = true
	if config.SSL.Enabled {
		mysqlConfig.TLSConfig = config.SSL.Mode
	}
	return mysqlConfig.FormatDSN()
}

// =====================================
// Registration
// =====================================

// init registers the Bun provider factory
func init() {
	fluid.RegisterProviderFactory("bun", &Factory{})
}
