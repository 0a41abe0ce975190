package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/fluidbun"
	"github.com/lemmego/fluid/fluidgorm"
	"github.com/lemmego/fluid/fluidmem"
	"github.com/lemmego/fluid/fluidmongo"
	"github.com/lemmego/fluid/fluidredis"
)

// =====================================
// Demo Collections
// =====================================

// Article is a blog post. Unpublished and soft-deleted articles are hidden
// from lists.
type Article struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" bun:"id,pk,autoincrement" bson:"_id" json:"id"`
	Slug      string    `gorm:"size:160;index" bun:"slug" bson:"slug" json:"slug"`
	Title     string    `gorm:"size:200" bun:"title" bson:"title" json:"title"`
	Author    string    `gorm:"size:64;index" bun:"author" bson:"author" json:"author"`
	Views     int       `bun:"views" bson:"views" json:"views"`
	Published bool      `bun:"published,notnull" bson:"published" json:"published"`
	IsDeleted bool      `bun:"is_deleted,notnull" bson:"is_deleted" json:"is_deleted"`
	UpdatedAt time.Time `bun:"updated_at" bson:"updated_at" json:"updated_at"`
}

// Validate rejects articles without a title
func (a *Article) Validate(ctx context.Context) error {
	if strings.TrimSpace(a.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}

// BeforeSave derives the slug and stamps the update time
func (a *Article) BeforeSave(ctx context.Context) error {
	if a.Slug == "" {
		a.Slug = slugify(a.Title)
	}
	a.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	return nil
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Author is keyed by handle
type Author struct {
	Handle string `gorm:"primaryKey;size:64" bun:"handle,pk" bson:"_id" json:"handle"`
	Name   string `gorm:"size:120" bun:"name" bson:"name" json:"name"`
	Email  string `gorm:"size:200" bun:"email" bson:"email" json:"email"`
}

func articleOptions() fluid.CollectionOptions {
	return fluid.CollectionOptions{
		Alias:            "articles",
		NameSingular:     "Article",
		Description:      "Blog posts",
		IDField:          "ID",
		DeletedField:     "IsDeleted",
		DefaultFilter:    fluid.Where("Published", fluid.OpEqual, true),
		SortField:        "Views",
		SortDirection:    fluid.Descending,
		SearchableFields: []string{"Title", "Author"},
		PageSize:         20,
	}
}

func authorOptions() fluid.CollectionOptions {
	return fluid.CollectionOptions{
		Alias:            "authors",
		IDField:          "Handle",
		SortField:        "Name",
		SearchableFields: []string{"Name", "Email"},
	}
}

// registerCollections builds the demo collections on provider
func registerCollections(ctx context.Context, r *fluid.Registry, provider fluid.Provider) error {
	if err := register[Article](ctx, r, provider, articleOptions()); err != nil {
		return err
	}
	return register[Author](ctx, r, provider, authorOptions())
}

func register[T any](ctx context.Context, r *fluid.Registry, provider fluid.Provider, opts fluid.CollectionOptions) error {
	desc, err := fluid.NewDescriptor[T](opts)
	if err != nil {
		return err
	}
	store, err := newStore(ctx, provider, desc)
	if err != nil {
		return err
	}
	_, err = fluid.Register(r, desc, store)
	return err
}

// newStore builds the provider's store for a descriptor, creating the table
// or indexes it needs
func newStore[T any](ctx context.Context, provider fluid.Provider, desc *fluid.Descriptor[T]) (fluid.Store[T], error) {
	switch p := provider.(type) {
	case *fluidgorm.Provider:
		if err := p.Migrate(ctx, new(T)); err != nil {
			return nil, err
		}
		s, err := fluidgorm.NewStore(p, desc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case *fluidbun.Provider:
		if err := p.Migrate(ctx, (*T)(nil)); err != nil {
			return nil, err
		}
		s, err := fluidbun.NewStore(p, desc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case *fluidmongo.Provider:
		s, err := fluidmongo.NewStore(p, desc)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case *fluidredis.Provider:
		s, err := fluidredis.NewStore(p, desc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case *fluidmem.Provider:
		s, err := fluidmem.NewStore(p, desc)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fluid.NewError(fluid.ErrorTypeUnsupported,
		fmt.Sprintf("no store for provider %s", provider.ProviderInfo().Name))
}
