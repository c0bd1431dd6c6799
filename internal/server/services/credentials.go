// Package services implements the sync engine's business logic on top of the
// repository layer: credentials resolution, conflict handling, content
// normalization, the embedding trigger, the full/incremental sync paths, the
// incremental pull, and the push-back path.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/cryptox"
	sc "github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/cmstack/mirrorsync/internal/wp"
)

// CredentialsService resolves a site's remote-origin access on demand,
// decrypting the stored secret with the server key. Secrets are never held
// beyond the call that needs them.
type CredentialsService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
}

func NewCredentialsService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config) *CredentialsService {
	return &CredentialsService{db: db, repomanager: repomanager, config: config}
}

// Resolve returns the site row together with its decrypted origin credentials.
func (s *CredentialsService) Resolve(ctx context.Context, siteID string) (*models.Site, *wp.Credentials, error) {
	site, err := s.repomanager.Sites(s.db).GetByID(ctx, siteID)
	if err != nil {
		return nil, nil, err
	}
	creds, err := s.CredentialsFor(site)
	if err != nil {
		return nil, nil, err
	}
	return site, creds, nil
}

// CredentialsFor decrypts an already-loaded site's origin credentials.
func (s *CredentialsService) CredentialsFor(site *models.Site) (*wp.Credentials, error) {
	if site.BaseURL == "" || site.AuthSecretEnc == "" {
		return nil, fmt.Errorf("%w: site %s has no origin credentials", common.ErrMissingCredentials, site.ID)
	}

	secret, err := cryptox.DecryptString(site.AuthSecretEnc, s.config.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting origin secret for site %s: %w", common.ErrConfig, site.ID, err)
	}

	var mode wp.AuthMode
	switch site.AuthMode {
	case models.AuthModeBasic:
		mode = wp.AuthBasic
	case models.AuthModeBearer:
		mode = wp.AuthBearer
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedAuth, site.AuthMode)
	}

	return &wp.Credentials{
		BaseURL:  site.BaseURL,
		AuthMode: mode,
		User:     site.AuthUser,
		Secret:   secret,
	}, nil
}

// WebhookSecret decrypts the site's shared webhook signing secret.
func (s *CredentialsService) WebhookSecret(site *models.Site) (string, error) {
	if site.WebhookSecretEnc == "" {
		return "", fmt.Errorf("%w: site %s has no webhook secret", common.ErrMissingCredentials, site.ID)
	}
	secret, err := cryptox.DecryptString(site.WebhookSecretEnc, s.config.SecretKey)
	if err != nil {
		return "", fmt.Errorf("%w: decrypting webhook secret for site %s: %w", common.ErrConfig, site.ID, err)
	}
	return secret, nil
}
