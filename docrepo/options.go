package docrepo

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/goliatone/go-docrepo/entity"
)

// UpsertStrategy selects how AddOrUpdate writes an entity.
type UpsertStrategy int

const (
	// NativeUpsert delegates to the store's create-or-replace primitive.
	// Attributes of the stored document that T does not describe are lost.
	NativeUpsert UpsertStrategy = iota
	// ReadModifyWrite reads the stored document, merges the entity onto it
	// and replaces it. Attributes T does not describe survive, and the stored
	// etag guards the replace against concurrent writers.
	ReadModifyWrite
)

func (s UpsertStrategy) String() string {
	switch s {
	case NativeUpsert:
		return "native"
	case ReadModifyWrite:
		return "read-modify-write"
	default:
		return "unknown"
	}
}

const (
	// DefaultPageSize is the number of documents requested per page.
	DefaultPageSize = 100
	// MaxPageSize is the largest page size a repository accepts.
	MaxPageSize = 1000
)

// Option configures a repository at construction time.
type Option func(*settings)

type settings struct {
	CollectionName string
	Naming         entity.NamingRule
	IdentityField  string
	Upsert         UpsertStrategy
	PageSize       int
	Logger         *zap.Logger
}

func defaultSettings() settings {
	return settings{
		Naming:   entity.TypeName,
		Upsert:   NativeUpsert,
		PageSize: DefaultPageSize,
		Logger:   zap.NewNop(),
	}
}

// WithCollectionName fixes the collection name, overriding any naming rule.
func WithCollectionName(name string) Option {
	return func(s *settings) {
		s.CollectionName = name
	}
}

// WithCollectionNaming derives the collection name from the entity type.
// The default rule is entity.TypeName.
func WithCollectionNaming(rule entity.NamingRule) Option {
	return func(s *settings) {
		if rule != nil {
			s.Naming = rule
		}
	}
}

// WithIdentityField selects the identity field by its Go name. The field
// must serialize as "id".
func WithIdentityField(goFieldName string) Option {
	return func(s *settings) {
		s.IdentityField = goFieldName
	}
}

// WithUpsertStrategy selects how AddOrUpdate writes.
func WithUpsertStrategy(strategy UpsertStrategy) Option {
	return func(s *settings) {
		s.Upsert = strategy
	}
}

// WithPageSize sets how many documents each store query page requests.
func WithPageSize(n int) Option {
	return func(s *settings) {
		s.PageSize = n
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.Logger = logger
		}
	}
}

var resourceName = regexp.MustCompile(`^[^/\\?#]+$`)

func (s *settings) validate(databaseID string) error {
	if err := validation.Validate(databaseID,
		validation.Required.Error("database id is required"),
		validation.Length(1, 255),
		validation.Match(resourceName).Error("must not contain '/', '\\', '?' or '#'"),
	); err != nil {
		return validation.Errors{"database_id": err}
	}
	return validation.ValidateStruct(s,
		validation.Field(&s.CollectionName,
			validation.Required.Error("collection name is required"),
			validation.Length(1, 255),
			validation.Match(resourceName).Error("must not contain '/', '\\', '?' or '#'"),
		),
		validation.Field(&s.Upsert, validation.In(NativeUpsert, ReadModifyWrite)),
		validation.Field(&s.PageSize, validation.Required, validation.Min(1), validation.Max(MaxPageSize)),
	)
}
