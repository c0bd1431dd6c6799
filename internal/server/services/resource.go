package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/wp"
)

// resourceFor maps a local entity type to its remote collection.
func resourceFor(t models.EntityType) (wp.Resource, error) {
	switch t {
	case models.EntityTypePage:
		return wp.ResourcePages, nil
	case models.EntityTypePost:
		return wp.ResourcePosts, nil
	case models.EntityTypeCategory:
		return wp.ResourceCategories, nil
	case models.EntityTypeMedia:
		return wp.ResourceMedia, nil
	default:
		return "", fmt.Errorf("unknown entity type %q", t)
	}
}

// OriginClient is the remote-origin surface the sync services consume.
// *wp.Client satisfies it; tests substitute fakes.
type OriginClient interface {
	ListPage(ctx context.Context, creds *wp.Credentials, res wp.Resource, page, perPage int) ([]wp.Item, error)
	ListModifiedSince(ctx context.Context, creds *wp.Credentials, res wp.Resource, after time.Time, page, perPage int) ([]wp.Item, error)
	Get(ctx context.Context, creds *wp.Credentials, res wp.Resource, id int64) (*wp.Item, error)
	GetCustomFields(ctx context.Context, creds *wp.Credentials, res wp.Resource, id int64) (map[string]any, error)
	Create(ctx context.Context, creds *wp.Credentials, res wp.Resource, payload *wp.WritePayload, idemKey string) (*wp.Item, error)
	Update(ctx context.Context, creds *wp.Credentials, res wp.Resource, id int64, payload *wp.WritePayload, idemKey string) (*wp.Item, error)
}
