// Package fluidgorm provides a GORM store for fluid collections
package fluidgorm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/internal/sqlcond"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// =====================================
// Provider Implementation
// =====================================

// Provider implements fluid.Provider using GORM
type Provider struct {
	db     *gorm.DB
	config fluid.Config
}

// Factory implements fluid.ProviderFactory
type Factory struct{}

// Create creates a new GORM provider instance
func (f *Factory) Create(config fluid.Config) (fluid.Provider, error) {
	return Open(config)
}

// SupportedDrivers returns the list of supported database drivers
func (f *Factory) SupportedDrivers() []string {
	return []string{"postgres", "postgresql", "mysql", "sqlite", "sqlite3", "sqlserver", "mssql"}
}

// Open connects to the database described by config
func Open(config fluid.Config) (*Provider, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(config.Driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(buildPostgresDSN(config))
	case "mysql":
		dialector = mysql.Open(buildMySQLDSN(config))
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(config.Database)
	case "sqlserver", "mssql":
		dialector = sqlserver.Open(buildSQLServerDSN(config))
	default:
		return nil, fluid.Error{
			Type:    fluid.ErrorTypeUnsupported,
			Message: fmt.Sprintf("unsupported driver: %s", config.Driver),
		}
	}

	provider, err := OpenDialector(dialector, config)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	sqlDB, err := provider.db.DB()
	if err != nil {
		return nil, fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "failed to get underlying sql.DB",
			Cause:   err,
		}
	}
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
	return provider, nil
}

// OpenDialector opens a provider over an already built dialector, e.g. one
// wrapping an existing *sql.DB.
func OpenDialector(dialector gorm.Dialector, config fluid.Config) (*Provider, error) {
	db, err := gorm.Open(dialector, gormConfig(config))
	if err != nil {
		return nil, fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "failed to connect to database",
			Cause:   err,
		}
	}
	return &Provider{db: db, config: config}, nil
}

func gormConfig(config fluid.Config) *gorm.Config {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		TranslateError: true,
	}

	opts := config.AdapterOptions("gorm")
	if logLevel, ok := opts["log_level"].(string); ok {
		switch logLevel {
		case "silent":
			cfg.Logger = logger.Default.LogMode(logger.Silent)
		case "error":
			cfg.Logger = logger.Default.LogMode(logger.Error)
		case "warn":
			cfg.Logger = logger.Default.LogMode(logger.Warn)
		case "info":
			cfg.Logger = logger.Default.LogMode(logger.Info)
		}
	}
	if singularTable, ok := opts["singular_table"].(bool); ok {
		cfg.NamingStrategy = schema.NamingStrategy{SingularTable: singularTable}
	}
	return cfg
}

// DB returns the underlying GORM handle
func (p *Provider) DB() *gorm.DB {
	return p.db
}

// Migrate creates or updates the tables of the given models
func (p *Provider) Migrate(ctx context.Context, models ...interface{}) error {
	if err := p.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return convertGormError(err)
	}
	return nil
}

// Health checks the database connection health
func (p *Provider) Health() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "failed to get underlying sql.DB",
			Cause:   err,
		}
	}
	if err := sqlDB.Ping(); err != nil {
		return convertGormError(err)
	}
	return nil
}

// Close closes the database connection
func (p *Provider) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SupportedFeatures returns the list of supported features
func (p *Provider) SupportedFeatures() []fluid.Feature {
	return []fluid.Feature{
		fluid.FeatureTransactions,
		fluid.FeatureIndexing,
		fluid.FeatureRawSQL,
		fluid.FeatureMigration,
		fluid.FeatureAggregation,
	}
}

// ProviderInfo returns information about this provider
func (p *Provider) ProviderInfo() fluid.ProviderInfo {
	return fluid.ProviderInfo{
		Name:         "GORM",
		Version:      "1.0.0",
		DatabaseType: fluid.DatabaseTypeSQL,
		Features:     p.SupportedFeatures(),
	}
}

// =====================================
// Store Implementation
// =====================================

// Store implements fluid.Store[T] with GORM. T must be a GORM model.
type Store[T any] struct {
	db       *gorm.DB
	desc     *fluid.Descriptor[T]
	columns  map[string]string // Go field name -> column
	idColumn string
	inTx     bool
}

var _ fluid.Store[struct{}] = (*Store[struct{}])(nil)

// NewStore creates the store of a collection. Column names come from the GORM
// schema of T.
func NewStore[T any](p *Provider, desc *fluid.Descriptor[T]) (*Store[T], error) {
	stmt := &gorm.Statement{DB: p.db}
	if err := stmt.Parse(new(T)); err != nil {
		return nil, fluid.NewErrorWithCause(fluid.ErrorTypeConfiguration,
			fmt.Sprintf("collection %q: cannot parse GORM schema", desc.Alias()), err)
	}

	columns := make(map[string]string, len(desc.Info().Fields))
	for _, f := range desc.Info().Fields {
		if field, ok := stmt.Schema.FieldsByName[f.Name]; ok && field.DBName != "" {
			columns[f.Name] = field.DBName
		}
	}
	idColumn, ok := columns[desc.IDField()]
	if !ok {
		return nil, fluid.NewError(fluid.ErrorTypeConfiguration,
			fmt.Sprintf("collection %q: id field %s is not a column", desc.Alias(), desc.IDField()))
	}
	return &Store[T]{db: p.db, desc: desc, columns: columns, idColumn: idColumn}, nil
}

func (s *Store[T]) column(field string) (clause.Column, error) {
	name, ok := s.columns[field]
	if !ok {
		return clause.Column{}, fluid.NewError(fluid.ErrorTypeConfiguration,
			fmt.Sprintf("collection %q: field %s is not a column", s.desc.Alias(), field))
	}
	return clause.Column{Name: name}, nil
}

func (s *Store[T]) dialect() sqlcond.Dialect {
	return sqlcond.Dialect{
		Column: func(field string) (interface{}, error) {
			return s.column(field)
		},
	}
}

// query builds a scoped query for the query filter
func (s *Store[T]) query(ctx context.Context, spec fluid.QuerySpec) (*gorm.DB, error) {
	db := s.db.WithContext(ctx).Model(new(T))
	frag, err := sqlcond.Render(spec.EffectiveFilter(), s.dialect())
	if err != nil {
		return nil, err
	}
	if !frag.Empty() {
		db = db.Where(frag.SQL, frag.Args...)
	}
	return db, nil
}

func (s *Store[T]) byID(ctx context.Context, id interface{}) *gorm.DB {
	return s.db.WithContext(ctx).Where("? = ?", clause.Column{Name: s.idColumn}, id)
}

// Find returns the rows matching the query, ordered and windowed
func (s *Store[T]) Find(ctx context.Context, spec fluid.QuerySpec) ([]*T, error) {
	db, err := s.query(ctx, spec)
	if err != nil {
		return nil, err
	}
	for _, order := range spec.Orders {
		column, err := s.column(order.Field)
		if err != nil {
			return nil, err
		}
		db = db.Order(clause.OrderByColumn{Column: column, Desc: order.Direction == fluid.Descending})
	}
	if spec.Paged() {
		db = db.Offset(spec.Offset).Limit(spec.Limit)
	}

	var items []*T
	if err := db.Find(&items).Error; err != nil {
		return nil, convertGormError(err)
	}
	return items, nil
}

// Count returns the number of rows matching the query filter
func (s *Store[T]) Count(ctx context.Context, spec fluid.QuerySpec) (int64, error) {
	db, err := s.query(ctx, spec)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, convertGormError(err)
	}
	return count, nil
}

// FindByID loads one row by primary key
func (s *Store[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	entity := new(T)
	if err := s.byID(ctx, id).Take(entity).Error; err != nil {
		return nil, convertGormError(err)
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
	return convertGormError(s.db.WithContext(ctx).Create(entity).Error)
}

// Update writes every column of entity
func (s *Store[T]) Update(ctx context.Context, entity *T) error {
	id := s.desc.ID(entity)
	result := s.byID(ctx, id).Model(entity).Select("*").Updates(entity)
	if result.Error != nil {
		return convertGormError(result.Error)
	}
	return s.checkAffected(ctx, result.RowsAffected, id)
}

// UpdateFields sets the given fields, keyed by Go field name
func (s *Store[T]) UpdateFields(ctx context.Context, id interface{}, fields map[string]interface{}) error {
	values := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		column, err := s.column(name)
		if err != nil {
			return err
		}
		values[column.Name] = value
	}
	result := s.byID(ctx, id).Model(new(T)).Updates(values)
	if result.Error != nil {
		return convertGormError(result.Error)
	}
	return s.checkAffected(ctx, result.RowsAffected, id)
}

// Delete removes the row physically
func (s *Store[T]) Delete(ctx context.Context, id interface{}) error {
	result := s.byID(ctx, id).Unscoped().Delete(new(T))
	if result.Error != nil {
		return convertGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// checkAffected tells "no such row" from "nothing changed", which MySQL
// reports the same way.
func (s *Store[T]) checkAffected(ctx context.Context, affected int64, id interface{}) error {
	if affected > 0 {
		return nil
	}
	var count int64
	if err := s.byID(ctx, id).Model(new(T)).Count(&count).Error; err != nil {
		return convertGormError(err)
	}
	if count == 0 {
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
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Store[T]{db: tx, desc: s.desc, columns: s.columns, idColumn: s.idColumn, inTx: true})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fluid.NewErrorWithCause(fluid.ErrorTypeTransaction, "transaction failed", convertGormError(err))
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

// convertGormError converts GORM errors to fluid errors
func convertGormError(err error) error {
	if err == nil {
		return nil
	}
	var ferr fluid.Error
	if errors.As(err, &ferr) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fluid.Error{
			Type:    fluid.ErrorTypeNotFound,
			Message: "record not found",
			Cause:   err,
		}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fluid.Error{
			Type:    fluid.ErrorTypeDuplicate,
			Message: "duplicate key violation",
			Cause:   err,
		}
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return fluid.Error{
			Type:    fluid.ErrorTypeConstraint,
			Message: "constraint violation",
			Cause:   err,
		}
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return fluid.Error{
			Type:    fluid.ErrorTypeTransaction,
			Message: "invalid transaction",
			Cause:   err,
		}
	case errors.Is(err, gorm.ErrNotImplemented), errors.Is(err, gorm.ErrUnsupportedRelation):
		return fluid.Error{
			Type:    fluid.ErrorTypeUnsupported,
			Message: "operation not supported",
			Cause:   err,
		}
	case errors.Is(err, gorm.ErrMissingWhereClause), errors.Is(err, gorm.ErrPrimaryKeyRequired),
		errors.Is(err, gorm.ErrModelValueRequired), errors.Is(err, gorm.ErrInvalidData):
		return fluid.Error{
			Type:    fluid.ErrorTypeInvalidArgument,
			Message: "invalid statement",
			Cause:   err,
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fluid.Error{
			Type:    fluid.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	}

	// Check for common database constraint errors
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
// DSN Builders
// =====================================

// buildPostgresDSN builds a PostgreSQL DSN
func buildPostgresDSN(config fluid.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database)

	if config.SSL.Enabled {
		dsn += " sslmode=" + config.SSL.Mode
		if config.SSL.CertFile != "" {
			dsn += " sslcert=" + config.SSL.CertFile
		}
		if config.SSL.KeyFile != "" {
			dsn += " sslkey=" + config.SSL.KeyFile
		}
		if config.SSL.CAFile != "" {
			dsn += " sslrootcert=" + config.SSL.CAFile
		}
	} else {
		dsn += " sslmode=disable"
	}
	return dsn
}

// buildMySQLDSN builds a MySQL DSN
func buildMySQLDSN(config fluid.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username, config.Password, config.Host, config.Port, config.Database)
	if config.SSL.Enabled {
		dsn += "&tls=" + config.SSL.Mode
	}
	return dsn
}

// buildSQLServerDSN builds a SQL Server DSN
func buildSQLServerDSN(config fluid.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		config.Username, config.Password, config.Host, config.Port, config.Database)
}

// =====================================
// Registration
// =====================================

// init registers the GORM provider factory
func init() {
	fluid.RegisterProviderFactory("gorm", &Factory{})
}
