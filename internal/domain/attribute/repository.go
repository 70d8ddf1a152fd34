package attribute

import "context"

// Repository persists subscriber attributes per app user
type Repository interface {
	// Load returns an empty Set when nothing is stored for the user
	Load(ctx context.Context, appUserID string) (Set, error)
	Save(ctx context.Context, appUserID string, attrs Set) error
	Delete(ctx context.Context, appUserID string) error
	// Users lists app users with stored attributes
	Users(ctx context.Context) ([]string, error)
}
