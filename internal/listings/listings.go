// Package listings implements the service catalog: what sellers offer,
// at what price, and how past buyers rated them.
package listings

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbande/biskato/internal/idgen"
	"github.com/mbande/biskato/internal/money"
)

var (
	ErrListingNotFound = errors.New("listings: listing not found")
	ErrListingExists   = errors.New("listings: listing already exists")
	ErrInvalidPrice    = errors.New("listings: invalid price")
	ErrInvalidCategory = errors.New("listings: invalid category")
	ErrInvalidRating   = errors.New("listings: rating must be between 1 and 5")
	ErrNotOwner        = errors.New("listings: caller does not own this listing")
)

// Listing is a service a seller offers on the marketplace.
type Listing struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"sellerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	Price       string    `json:"price"` // Kz, fixed to 2 decimals
	Active      bool      `json:"active"`
	RatingAvg   float64   `json:"ratingAvg"`
	RatingCount int64     `json:"ratingCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Known categories. Sellers pick one; "other" is the catch-all.
var KnownCategories = []string{
	"design",
	"writing",
	"translation",
	"development",
	"marketing",
	"tutoring",
	"repairs",
	"delivery",
	"events",
	"other",
}

func IsKnownCategory(c string) bool {
	for _, known := range KnownCategories {
		if known == c {
			return true
		}
	}
	return false
}

// CreateRequest is the payload for publishing a listing.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category" binding:"required"`
	Price       string `json:"price" binding:"required"`
}

// UpdateRequest carries mutable listing fields. Nil pointers mean unchanged.
type UpdateRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Price       *string `json:"price,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// Query filters for browsing listings.
type Query struct {
	Category  string
	SellerID  string
	MinPrice  string
	MaxPrice  string
	MinRating float64
	Active    *bool
	Limit     int
	Offset    int
}

// Store defines the persistence interface for listings.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	List(ctx context.Context, q Query) ([]*Listing, error)

	// ApplyRating folds one rating into the listing's running mean.
	ApplyRating(ctx context.Context, id string, rating int) error
}

// Service implements listing business logic.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create validates and publishes a new listing for the seller.
func (s *Service) Create(ctx context.Context, sellerID string, req CreateRequest) (*Listing, error) {
	if !IsKnownCategory(req.Category) {
		return nil, ErrInvalidCategory
	}
	price, ok := money.Parse(req.Price)
	if !ok || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	now := time.Now()
	l := &Listing{
		ID:          idgen.WithPrefix("lst_"),
		SellerID:    sellerID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		Price:       money.Format(price),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// Update applies partial changes to a listing owned by sellerID.
func (s *Service) Update(ctx context.Context, sellerID, id string, req UpdateRequest) (*Listing, error) {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, ErrNotOwner
	}

	if req.Title != nil {
		l.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		l.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		price, ok := money.Parse(*req.Price)
		if !ok || price.Sign() <= 0 {
			return nil, ErrInvalidPrice
		}
		l.Price = money.Format(price)
	}
	if req.Active != nil {
		l.Active = *req.Active
	}
	l.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// List returns listings matching the query.
func (s *Service) List(ctx context.Context, q Query) ([]*Listing, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	return s.store.List(ctx, q)
}

// ApplyRating folds a 1-5 star rating into the listing's running mean.
// The mean is updated incrementally: avg += (rating - avg) / count.
func (s *Service) ApplyRating(ctx context.Context, id string, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	return s.store.ApplyRating(ctx, id, rating)
}
