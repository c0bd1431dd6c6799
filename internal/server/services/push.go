package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/logging"
	sc "github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/cmstack/mirrorsync/internal/wp"
	"github.com/google/uuid"
)

// PushAction is the requested local-to-remote write kind.
type PushAction string

const (
	PushActionCreate  PushAction = "create"
	PushActionUpdate  PushAction = "update"
	PushActionPublish PushAction = "publish"
)

// PushResult reports a successful local-to-remote write.
type PushResult struct {
	RemoteID int64  `json:"wpId"`
	URL      string `json:"url"`
}

// PushService writes local edits back to the remote origin and maintains the
// freshness stamp consumed by the anti-loop guard.
type PushService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
	origin      OriginClient
	creds       *CredentialsService
}

func NewPushService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config,
	logger logging.Logger, origin OriginClient, creds *CredentialsService) *PushService {
	return &PushService{
		db:          db,
		repomanager: repomanager,
		config:      config,
		logger:      logger,
		origin:      origin,
		creds:       creds,
	}
}

// Push performs a create (no remote id yet) or update against the origin,
// tagging the request with a fresh idempotency key, then immediately stamps
// the local record's push timestamp so the echoed webhook is recognizable.
func (s *PushService) Push(ctx context.Context, localID string, action PushAction) (*PushResult, error) {
	entityRepo := s.repomanager.Entities(s.db)

	e, err := entityRepo.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}

	site, creds, err := s.creds.Resolve(ctx, e.SiteID)
	if err != nil {
		return nil, err
	}
	res, err := resourceFor(e.Type)
	if err != nil {
		return nil, err
	}

	payload := &wp.WritePayload{
		Title:   e.Title,
		Content: e.Content,
		Excerpt: e.Excerpt,
		Status:  e.Status,
	}
	if action == PushActionPublish {
		payload.Status = "publish"
	}
	if len(e.CustomFields) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(e.CustomFields, &fields); err != nil {
			return nil, fmt.Errorf("decoding custom fields of entity %s: %w", localID, err)
		}
		payload.Fields = fields
	}

	idemKey := uuid.NewString()

	var pushed *wp.Item
	if e.RemoteID == 0 || action == PushActionCreate {
		pushed, err = s.origin.Create(ctx, creds, res, payload, idemKey)
		if err != nil {
			return nil, err
		}
		if err := entityRepo.AssignRemoteID(ctx, e.ID, pushed.ID); err != nil {
			return nil, err
		}
	} else {
		pushed, err = s.origin.Update(ctx, creds, res, e.RemoteID, payload, idemKey)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if err := entityRepo.StampPushed(ctx, site.ID, e.Type, pushed.ID, now); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "entity pushed to origin",
		"site_id", site.ID, "entity_id", e.ID, "remote_id", pushed.ID,
		"action", action, "idempotency_key", idemKey)
	return &PushResult{RemoteID: pushed.ID, URL: pushed.Link}, nil
}

// IsSelfOriginated reports whether an inbound change notification for the
// given remote id is an echo of a push this system just performed. The check
// is a time heuristic: a push stamp younger than the echo window means the
// webhook almost certainly reports our own write.
func (s *PushService) IsSelfOriginated(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64) (bool, error) {
	e, err := s.repomanager.Entities(s.db).GetByRemote(ctx, siteID, entityType, remoteID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if e.PushedAt == nil {
		return false, nil
	}
	return time.Since(*e.PushedAt) < s.config.EchoWindow, nil
}
