package services

import (
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cmstack/mirrorsync/internal/cryptox"
	"github.com/cmstack/mirrorsync/internal/logging"
	sc "github.com/cmstack/mirrorsync/internal/server/config"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/wp"
)

// testEnv bundles the pieces every service test needs: an in-memory
// repository set, a sqlmock db for transaction plumbing, and a scriptable
// origin.
type testEnv struct {
	db     *sql.DB
	mock   sqlmock.Sqlmock
	rm     *fakeRepoManager
	cfg    *sc.Config
	logger logging.Logger
	origin *fakeOrigin
	creds  *CredentialsService
	site   *models.Site
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &sc.Config{}
	cfg.LoadDefaults()

	rm := newFakeRepoManager()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	authEnc, err := cryptox.EncryptString("origin-secret", cfg.SecretKey)
	if err != nil {
		t.Fatalf("encrypting fixture secret: %v", err)
	}
	hookEnc, err := cryptox.EncryptString("hook-secret", cfg.SecretKey)
	if err != nil {
		t.Fatalf("encrypting fixture secret: %v", err)
	}

	site := &models.Site{
		ID:               "site-1",
		OrganizationID:   "org-1",
		BaseURL:          "https://origin.example.com",
		AuthMode:         models.AuthModeBasic,
		AuthUser:         "svc",
		AuthSecretEnc:    authEnc,
		WebhookSecretEnc: hookEnc,
	}
	if err := rm.sites.Create(t.Context(), site); err != nil {
		t.Fatalf("creating fixture site: %v", err)
	}

	return &testEnv{
		db:     db,
		mock:   mock,
		rm:     rm,
		cfg:    cfg,
		logger: logger,
		origin: &fakeOrigin{itemsByID: map[int64]*wp.Item{}, pages: map[wp.Resource][][]wp.Item{}},
		creds:  NewCredentialsService(db, rm, cfg),
		site:   site,
	}
}

// expectTx queues n begin/commit pairs on the sqlmock connection. The
// in-memory repositories ignore the transactional handle, so no statement
// expectations are needed.
func (e *testEnv) expectTx(n int) {
	for i := 0; i < n; i++ {
		e.mock.ExpectBegin()
		e.mock.ExpectCommit()
	}
}

func (e *testEnv) newEmbeddingService() *EmbeddingService {
	return NewEmbeddingService(e.db, e.rm, e.cfg, e.logger, NewCostPolicyService(e.db, e.rm))
}

func (e *testEnv) newSyncService() *SyncService {
	conflictsSvc := NewConflictService(e.db, e.rm)
	return NewSyncService(e.db, e.rm, e.cfg, e.logger, e.origin, e.creds, conflictsSvc, e.newEmbeddingService(), nil)
}

func wpItem(id int64, title, content string, modified time.Time) wp.Item {
	return wp.Item{
		ID:          id,
		Title:       wp.Rendered{Rendered: title},
		Content:     wp.Rendered{Rendered: content},
		ModifiedGMT: wp.Time{Time: modified},
		Status:      "publish",
	}
}
