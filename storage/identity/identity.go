// Package identity owns the user store and the surrounding domain models.
// The authentication gate only reads identities from it.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pokemon918/ntbl-api-sub003/gateway/auth"
)

// User is an account holder. Ref is the compact public reference carried in
// who tokens; Secret is the stored password-derived HMAC key.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Ref       string    `gorm:"size:64;uniqueIndex;not null"`
	Name      string    `gorm:"size:255"`
	Email     string    `gorm:"size:255;uniqueIndex"`
	Secret    []byte    `gorm:"not null"`
	Admin     bool
	TeamID    *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Team groups users for shared tastings.
type Team struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:255;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tasting is a note entry owned by a user.
type Tasting struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID  `gorm:"type:uuid;index"`
	TeamID    *uuid.UUID `gorm:"type:uuid;index"`
	Name      string     `gorm:"size:255;not null"`
	Producer  string     `gorm:"size:255"`
	Vintage   int
	Rating    float64
	Notes     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription tracks a user's plan; billing itself is proxied elsewhere.
type Subscription struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Plan      string    `gorm:"size:32;not null"`
	Active    bool      `gorm:"index"`
	RenewsAt  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AutoMigrate performs all schema migrations for the identity domain.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Team{}, &Tasting{}, &Subscription{})
}

// Store wraps identity and tasting persistence.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	if db == nil {
		panic("identity store requires a database")
	}
	return &Store{db: db}
}

// LookupByRef resolves a reference to the gate's read-only identity view.
func (s *Store) LookupByRef(ctx context.Context, ref string) (*auth.Identity, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "ref = ?", strings.TrimSpace(ref)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("lookup identity %q: %w", ref, err)
	}
	return &auth.Identity{Ref: user.Ref, Secret: user.Secret, Admin: user.Admin}, nil
}

// UserByRef returns the full user row for profile handling.
func (s *Store) UserByRef(ctx context.Context, ref string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, "ref = ?", strings.TrimSpace(ref)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("load user %q: %w", ref, err)
	}
	return &user, nil
}

// CreateUser inserts a new account with a generated ID.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CreateTasting inserts a tasting owned by the supplied user.
func (s *Store) CreateTasting(ctx context.Context, tasting *Tasting) error {
	if tasting.ID == uuid.Nil {
		tasting.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(tasting).Error; err != nil {
		return fmt.Errorf("create tasting: %w", err)
	}
	return nil
}

// TastingsByOwner lists the owner's tastings, newest first.
func (s *Store) TastingsByOwner(ctx context.Context, ownerID uuid.UUID) ([]Tasting, error) {
	var tastings []Tasting
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&tastings).Error
	if err != nil {
		return nil, fmt.Errorf("list tastings: %w", err)
	}
	return tastings, nil
}
