package fluid

import "time"

// =====================================
// Core Types and Constants
// =====================================

// Config represents backing store connection configuration
type Config struct {
	// Connection details
	Driver        string `json:"driver" yaml:"driver" mapstructure:"driver"`
	ConnectionURL string `json:"connection_url" yaml:"connection_url" mapstructure:"connection_url"`
	Host          string `json:"host" yaml:"host" mapstructure:"host"`
	Port          int    `json:"port" yaml:"port" mapstructure:"port"`
	Database      string `json:"database" yaml:"database" mapstructure:"database"`
	Username      string `json:"username" yaml:"username" mapstructure:"username"`
	Password      string `json:"password" yaml:"password" mapstructure:"password"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`

	// Additional options, keyed by adapter name ("gorm", "bun", "mongo", "redis")
	Options map[string]interface{} `json:"options" yaml:"options" mapstructure:"options"`

	// SSL/TLS configuration
	SSL SSLConfig `json:"ssl" yaml:"ssl" mapstructure:"ssl"`
}

// SSLConfig represents SSL/TLS configuration
type SSLConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Mode     string `json:"mode" yaml:"mode" mapstructure:"mode"`
	CertFile string `json:"cert_file" yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file" mapstructure:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file" mapstructure:"ca_file"`
}

// AdapterOptions returns the options map registered under the given adapter name.
// A missing or mistyped entry yields an empty map.
func (c Config) AdapterOptions(adapter string) map[string]interface{} {
	if opts, ok := c.Options[adapter].(map[string]interface{}); ok {
		return opts
	}
	return map[string]interface{}{}
}

// ProviderInfo contains information about a store provider
type ProviderInfo struct {
	Name         string
	Version      string
	DatabaseType DatabaseType
	Features     []Feature
}

// DatabaseType represents the type of database behind a store
type DatabaseType string

const (
	DatabaseTypeSQL      DatabaseType = "sql"
	DatabaseTypeDocument DatabaseType = "document"
	DatabaseTypeKV       DatabaseType = "key-value"
	DatabaseTypeMemory   DatabaseType = "memory"
)

// Feature represents a store feature
type Feature string

const (
	FeatureTransactions Feature = "transactions"
	FeatureIndexing     Feature = "indexing"
	FeatureRawSQL       Feature = "raw_sql"
	FeatureMigration    Feature = "migration"
	FeatureAggregation  Feature = "aggregation"
)

// Operator represents condition operators
type Operator string

const (
	OpEqual              Operator = "="
	OpNotEqual           Operator = "!="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpLike               Operator = "LIKE"
	OpNotLike            Operator = "NOT LIKE"
	OpIn                 Operator = "IN"
	OpNotIn              Operator = "NOT IN"
	OpIsNull             Operator = "IS NULL"
	OpIsNotNull          Operator = "IS NOT NULL"
	OpBetween            Operator = "BETWEEN"
	OpContains           Operator = "CONTAINS"
	OpStartsWith         Operator = "STARTS_WITH"
	OpEndsWith           Operator = "ENDS_WITH"
)

var knownOperators = map[Operator]struct{}{
	OpEqual: {}, OpNotEqual: {}, OpGreaterThan: {}, OpGreaterThanOrEqual: {},
	OpLessThan: {}, OpLessThanOrEqual: {}, OpLike: {}, OpNotLike: {},
	OpIn: {}, OpNotIn: {}, OpIsNull: {}, OpIsNotNull: {}, OpBetween: {},
	OpContains: {}, OpStartsWith: {}, OpEndsWith: {},
}

// LogicOperator represents logic operators for combining conditions
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
	LogicNot LogicOperator = "NOT"
)

// SortDirection represents sort direction
type SortDirection string

const (
	Ascending  SortDirection = "ASC"
	Descending SortDirection = "DESC"
)

// Order represents sorting on one field
type Order struct {
	Field     string
	Direction SortDirection
}

// ErrorType represents the different kinds of failure the engine reports
type ErrorType string

const (
	ErrorTypeConfiguration   ErrorType = "configuration"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeHook            ErrorType = "hook"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypeDuplicate       ErrorType = "duplicate"
	ErrorTypeConstraint      ErrorType = "constraint"
	ErrorTypeConnection      ErrorType = "connection"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeTransaction     ErrorType = "transaction"
	ErrorTypeUnsupported     ErrorType = "unsupported"
	ErrorTypeDatabase        ErrorType = "database"
	ErrorTypeSerialization   ErrorType = "serialization"
	ErrorTypeInternal        ErrorType = "internal"
)

// Operation names used in errors, logs and metrics.
const (
	OperationGet     = "get"
	OperationGetMany = "get_many"
	OperationList    = "list"
	OperationPaged   = "list_paged"
	OperationCount   = "count"
	OperationSave    = "save"
	OperationDelete  = "delete"
)
