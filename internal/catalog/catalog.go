package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/storefront/internal/telemetry"
)

const (
	// DefaultPageSize is used when no positive page size is given.
	DefaultPageSize = 10

	// PlaceholderTotalItems is reported as TotalItems. The remote service does not
	// return a real count so this is a fixed stand-in, not a derived value.
	PlaceholderTotalItems = 20
)

var (
	// ErrFetchFailed is returned when a page could not be retrieved.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrSchemaMismatch is returned when the remote payload does not look like a listing.
	ErrSchemaMismatch = errors.New("unexpected listing payload")
)

var tracer = otel.Tracer("github.com/wolfeidau/storefront/internal/catalog")

// Rating is the aggregate review score of a product.
type Rating struct {
	Score     float64 `json:"rate"`
	VoteCount int     `json:"count"`
}

// Product is an immutable listing snapshot from the remote service.
type Product struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	ImageURL    string  `json:"image"`
	Rating      Rating  `json:"rating"`
}

// PageResult is one page of items plus derived paging metadata.
type PageResult[T any] struct {
	Items        []T `json:"items"`
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
}

// HasNext reports whether a later page exists.
func (p *PageResult[T]) HasNext() bool {
	return p.CurrentPage < p.TotalPages
}

// HasPrevious reports whether an earlier page exists.
func (p *PageResult[T]) HasPrevious() bool {
	return p.CurrentPage > 1
}

// Lister returns raw product records from the remote service.
type Lister interface {
	ListProducts(ctx context.Context, limit int, token string) ([]byte, error)
}

// TokenSource supplies the stored bearer token, if any.
type TokenSource interface {
	Token() (string, bool)
}

// Fetcher retrieves pages of products.
//
// It does not check that a user is signed in, callers must do that before asking
// for a page.
type Fetcher struct {
	lister Lister
	tokens TokenSource
}

// NewFetcher creates a catalog fetcher, tokens may be nil.
func NewFetcher(lister Lister, tokens TokenSource) *Fetcher {
	return &Fetcher{lister: lister, tokens: tokens}
}

// FetchPage requests up to pageSize products.
//
// The remote has no server side paging so the same items come back for every page
// number. TotalPages is derived from the number of items returned.
func (f *Fetcher) FetchPage(ctx context.Context, page, pageSize int) (*PageResult[Product], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	ctx, span := tracer.Start(ctx, "catalog.FetchPage")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	started := time.Now()
	m := telemetry.GetMetrics()
	m.CatalogFetchTotal.Add(ctx, 1)

	products, err := f.fetch(ctx, pageSize)
	m.CatalogFetchDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.CatalogFetchErrorsTotal.Add(ctx, 1)

		log.Error().Err(err).Int("page", page).Int("pageSize", pageSize).Msg("catalog fetch failed")

		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	m.CatalogItemsReturned.Record(ctx, int64(len(products)), metric.WithAttributes(attribute.Int("page_size", pageSize)))

	log.Debug().Int("page", page).Int("items", len(products)).Msg("catalog page fetched")

	return &PageResult[Product]{
		Items:        products,
		CurrentPage:  page,
		TotalPages:   totalPages(len(products), pageSize),
		TotalItems:   PlaceholderTotalItems,
		ItemsPerPage: pageSize,
	}, nil
}

func (f *Fetcher) fetch(ctx context.Context, pageSize int) ([]Product, error) {
	token := ""
	if f.tokens != nil {
		token, _ = f.tokens.Token()
	}

	body, err := f.lister.ListProducts(ctx, pageSize, token)
	if err != nil {
		return nil, err
	}

	return DecodeProducts(body)
}

// DecodeProducts parses a listing payload, rejecting anything that is not an array
// of product records with an id and title.
func DecodeProducts(body []byte) ([]Product, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrSchemaMismatch)
	}

	var products []Product
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	for i, p := range products {
		if p.ID <= 0 {
			return nil, fmt.Errorf("%w: record %d has no id", ErrSchemaMismatch, i)
		}
		if p.Title == "" {
			return nil, fmt.Errorf("%w: record %d (id %d) has no title", ErrSchemaMismatch, i, p.ID)
		}
	}

	if products == nil {
		products = []Product{}
	}

	return products, nil
}

// totalPages is ceil(count / pageSize), never less than one.
func totalPages(count, pageSize int) int {
	pages := (count + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}
