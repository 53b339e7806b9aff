package conflict

import "context"

// ListFilter narrows conflict listings.
type ListFilter struct {
	Status     Status // empty means any
	IdentityID string // either side
	Limit      int
	Offset     int
}

// Repository stores conflict records. Conflicts are never deleted.
type Repository interface {
	// Create stores an open conflict.
	Create(ctx context.Context, c *ConflictRecord) error

	// GetByID returns ErrConflictNotFound when the id is unknown.
	// forUpdate takes a row lock for the rest of the transaction.
	GetByID(ctx context.Context, id string, forUpdate bool) (*ConflictRecord, error)

	// List returns conflicts ordered by creation time, oldest first.
	List(ctx context.Context, filter ListFilter) ([]*ConflictRecord, error)

	// FindOpen returns the open conflict about field between a and b, in
	// either order, or ErrConflictNotFound. b may be empty.
	FindOpen(ctx context.Context, field Field, a, b string) (*ConflictRecord, error)

	// ListOpenBetween returns open conflicts whose candidates are exactly a and b.
	ListOpenBetween(ctx context.Context, a, b string) ([]*ConflictRecord, error)

	// Update persists status and resolution fields.
	Update(ctx context.Context, c *ConflictRecord) error
}
