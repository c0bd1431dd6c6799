// Package webhook is the inbound HTTP surface: change notifications from the
// remote origin, signature-checked per tenant before anything touches the
// queue, plus a health endpoint.
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/cryptox"
	"github.com/cmstack/mirrorsync/internal/logging"
	sc "github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/repomanager"
	"github.com/cmstack/mirrorsync/internal/server/services"
	"github.com/google/uuid"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxBodySize     = 1 << 20
)

// Enqueuer hands validated events to the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload any) (string, error)
}

// LoopGuard recognizes webhooks echoing this system's own pushes.
type LoopGuard interface {
	IsSelfOriginated(ctx context.Context, siteID string, entityType models.EntityType, remoteID int64) (bool, error)
}

// inboundEvent is the origin's change notification body.
type inboundEvent struct {
	Event       string     `json:"event"`
	Action      string     `json:"action"`
	WPID        int64      `json:"wpId"`
	WPType      string     `json:"wpType"`
	ModifiedGMT *time.Time `json:"modifiedGmt"`
	SiteURL     string     `json:"siteUrl"`
	Timestamp   int64      `json:"timestamp"`
}

// Server is the webhook HTTP server.
type Server struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	logger      logging.Logger
	creds       *services.CredentialsService
	guard       LoopGuard
	enqueuer    Enqueuer
	httpServer  *http.Server
}

func NewServer(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config,
	logger logging.Logger, creds *services.CredentialsService, guard LoopGuard, enqueuer Enqueuer) *Server {
	s := &Server{
		db:          db,
		repomanager: repomanager,
		config:      config,
		logger:      logger,
		creds:       creds,
		guard:       guard,
		enqueuer:    enqueuer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{siteID}", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              config.EndpointAddrHTTP,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.logger.Info(ctx, "webhook endpoint listening", "addr", s.httpServer.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.PathValue("siteID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	site, err := s.repomanager.Sites(s.db).GetByID(ctx, siteID)
	if errors.Is(err, common.ErrNotFound) {
		// Same answer as a bad signature; a distinct status here would let
		// an unauthenticated caller enumerate valid site ids.
		s.logger.Warn(ctx, "webhook for unknown site", "site_id", siteID)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.logger.Error(ctx, "site lookup failed", "site_id", siteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Signature check comes before any parsing or enqueueing: an unsigned
	// body never influences state.
	secret, err := s.creds.WebhookSecret(site)
	if err != nil {
		s.logger.Error(ctx, "webhook secret unavailable", "site_id", siteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !cryptox.VerifyHMAC(body, r.Header.Get(signatureHeader), secret) {
		s.logger.Warn(ctx, "webhook signature rejected", "site_id", siteID)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event inboundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	entityType, ok := parseEntityType(event.WPType)
	if !ok {
		http.Error(w, "unsupported entity type", http.StatusBadRequest)
		return
	}

	if event.Action != "deleted" {
		echo, err := s.guard.IsSelfOriginated(ctx, siteID, entityType, event.WPID)
		if err != nil {
			s.logger.Error(ctx, "anti-loop check failed", "site_id", siteID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if echo {
			s.logger.Info(ctx, "webhook ignored as push echo",
				"site_id", siteID, "entity_type", entityType, "remote_id", event.WPID)
			writeJSON(w, http.StatusAccepted, map[string]any{"ignored": true})
			return
		}
	}

	correlationID := uuid.NewString()
	jobID, err := s.enqueuer.Enqueue(ctx, models.JobTypeIncrementalSync, &models.IncrementalSyncPayload{
		Envelope: models.Envelope{
			OrganizationID: site.OrganizationID,
			SiteID:         site.ID,
			CorrelationID:  correlationID,
		},
		EntityType:  entityType,
		RemoteID:    event.WPID,
		Action:      event.Action,
		ModifiedGMT: event.ModifiedGMT,
		Origin:      "webhook",
	})
	if err != nil {
		s.logger.Error(ctx, "webhook enqueue failed", "site_id", siteID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Info(ctx, "webhook accepted",
		"site_id", siteID, "entity_type", entityType, "remote_id", event.WPID,
		"action", event.Action, "job_id", jobID, "correlation_id", correlationID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":         jobID,
		"correlationId": correlationID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func parseEntityType(s string) (models.EntityType, bool) {
	switch models.EntityType(s) {
	case models.EntityTypePage, models.EntityTypePost, models.EntityTypeCategory, models.EntityTypeMedia:
		return models.EntityType(s), true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
