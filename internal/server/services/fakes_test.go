package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cmstack/mirrorsync/internal/common"
	"github.com/cmstack/mirrorsync/internal/dbx"
	"github.com/cmstack/mirrorsync/internal/server/models"
	"github.com/cmstack/mirrorsync/internal/server/repositories/chunksets"
	"github.com/cmstack/mirrorsync/internal/server/repositories/conflicts"
	"github.com/cmstack/mirrorsync/internal/server/repositories/coststates"
	"github.com/cmstack/mirrorsync/internal/server/repositories/entities"
	"github.com/cmstack/mirrorsync/internal/server/repositories/jobs"
	"github.com/cmstack/mirrorsync/internal/server/repositories/sites"
	"github.com/cmstack/mirrorsync/internal/wp"
)

// fakeRepoManager hands out shared in-memory repositories regardless of the
// DBTX it is given, so service logic can be exercised without a database.
type fakeRepoManager struct {
	jobs       *fakeJobsRepo
	sites      *fakeSitesRepo
	entities   *fakeEntitiesRepo
	conflicts  *fakeConflictsRepo
	chunkSets  *fakeChunkSetsRepo
	costStates *fakeCostStatesRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		jobs:       &fakeJobsRepo{},
		sites:      &fakeSitesRepo{bySite: map[string]*models.Site{}},
		entities:   &fakeEntitiesRepo{byID: map[string]*models.Entity{}},
		conflicts:  &fakeConflictsRepo{},
		chunkSets:  &fakeChunkSetsRepo{},
		costStates: &fakeCostStatesRepo{byOrg: map[string]*models.CostState{}},
	}
}

func (m *fakeRepoManager) Jobs(db dbx.DBTX) jobs.Repository             { return m.jobs }
func (m *fakeRepoManager) Sites(db dbx.DBTX) sites.Repository           { return m.sites }
func (m *fakeRepoManager) Entities(db dbx.DBTX) entities.Repository     { return m.entities }
func (m *fakeRepoManager) Conflicts(db dbx.DBTX) conflicts.Repository   { return m.conflicts }
func (m *fakeRepoManager) ChunkSets(db dbx.DBTX) chunksets.Repository   { return m.chunkSets }
func (m *fakeRepoManager) CostStates(db dbx.DBTX) coststates.Repository { return m.costStates }
func (m *fakeRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}

type fakeJobsRepo struct {
	mu       sync.Mutex
	enqueued []*models.SyncJob
}

func (r *fakeJobsRepo) Enqueue(ctx context.Context, job *models.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, job)
	return nil
}

func (r *fakeJobsRepo) byType(t models.JobType) []*models.SyncJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SyncJob
	for _, j := range r.enqueued {
		if j.Type == t {
			out = append(out, j)
		}
	}
	return out
}

func (r *fakeJobsRepo) Claim(ctx context.Context, jobTypes []models.JobType, batchSize int, workerID string) ([]*models.SyncJob, error) {
	return nil, nil
}
func (r *fakeJobsRepo) Heartbeat(ctx context.Context, jobID, workerID string) error { return nil }
func (r *fakeJobsRepo) Complete(ctx context.Context, jobID, workerID string, result json.RawMessage) error {
	return nil
}
func (r *fakeJobsRepo) Fail(ctx context.Context, jobID, workerID, errMsg string, nextRun time.Time) error {
	return nil
}
func (r *fakeJobsRepo) ReleaseStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (r *fakeJobsRepo) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return nil, common.ErrNotFound
}

type fakeSitesRepo struct {
	mu     sync.Mutex
	bySite map[string]*models.Site
}

func (r *fakeSitesRepo) GetByID(ctx context.Context, siteID string) (*models.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bySite[siteID]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *fakeSitesRepo) List(ctx context.Context) ([]*models.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Site
	for _, s := range r.bySite {
		clone := *s
		out = append(out, &clone)
	}
	return out, nil
}

func (r *fakeSitesRepo) Create(ctx context.Context, site *models.Site) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *site
	r.bySite[site.ID] = &clone
	return nil
}

func (r *fakeSitesRepo) AdvanceWatermark(ctx context.Context, siteID string, to time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bySite[siteID]
	if !ok {
		return common.ErrNotFound
	}
	if s.LastSyncAt != nil && s.LastSyncAt.After(to) {
		return common.ErrWatermarkRegression
	}
	s.LastSyncAt = &to
	return nil
}

type fakeEntitiesRepo struct {
	mu            sync.Mutex
	byID          map[string]*models.Entity
	hasDependents bool
}

func (r *fakeEntitiesRepo) Upsert(ctx context.Context, e *models.Entity) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.byID {
		if existing.SiteID == e.SiteID && existing.Type == e.Type && existing.RemoteID == e.RemoteID {
			clone := *e
			clone.ID = id
			clone.StorageKey = existing.StorageKey
			if e.StorageKey != "" {
				clone.StorageKey = e.StorageKey
			}
			r.byID[id] = &clone
			return id, false, nil
		}
	}
	// Inserts bind the caller's id straight into the uuid primary key,
	// which has no database default.
	if e.ID == "" {
		return "", false, errors.New("entity id required for insert")
	}
	clone := *e
	r.byID[e.ID] = &clone
	return e.ID, true, nil
}

func (r *fakeEntitiesRepo) GetByRemote(ctx context.Context, siteID string, t models.EntityType, remoteID int64) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID {
		if e.SiteID == siteID && e.Type == t && e.RemoteID == remoteID {
			clone := *e
			return &clone, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *fakeEntitiesRepo) Archive(ctx context.Context, siteID string, t models.EntityType, remoteID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, e := range r.byID {
		if e.SiteID == siteID && e.Type == t && e.RemoteID == remoteID {
			e.ArchivedAt = &now
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *fakeEntitiesRepo) HasDependents(ctx context.Context, siteID string, t models.EntityType, remoteID int64) (bool, error) {
	return r.hasDependents, nil
}

func (r *fakeEntitiesRepo) StampPushed(ctx context.Context, siteID string, t models.EntityType, remoteID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID {
		if e.SiteID == siteID && e.Type == t && e.RemoteID == remoteID {
			e.PushedAt = &at
			e.SyncedAt = at
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *fakeEntitiesRepo) AssignRemoteID(ctx context.Context, localID string, remoteID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[localID]
	if !ok {
		return common.ErrNotFound
	}
	e.RemoteID = remoteID
	return nil
}

func (r *fakeEntitiesRepo) GetByID(ctx context.Context, localID string) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[localID]
	if !ok {
		return nil, common.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

type fakeConflictsRepo struct {
	mu      sync.Mutex
	records []*models.SyncConflict
}

func (r *fakeConflictsRepo) Create(ctx context.Context, c *models.SyncConflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *c
	r.records = append(r.records, &clone)
	return nil
}

func (r *fakeConflictsRepo) GetByID(ctx context.Context, id string) (*models.SyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.records {
		if c.ID == id {
			clone := *c
			return &clone, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *fakeConflictsRepo) ListOpen(ctx context.Context, siteID string) ([]*models.SyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SyncConflict
	for _, c := range r.records {
		if c.SiteID == siteID && c.ResolutionStatus == models.ResolutionStatusOpen {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeConflictsRepo) transition(id string, status models.ResolutionStatus, by, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.records {
		if c.ID == id {
			if c.ResolutionStatus != models.ResolutionStatusOpen {
				return nil
			}
			now := time.Now().UTC()
			c.ResolutionStatus = status
			c.ResolvedBy = by
			c.ResolutionNote = note
			c.ResolvedAt = &now
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *fakeConflictsRepo) Resolve(ctx context.Context, id, by, note string) error {
	return r.transition(id, models.ResolutionStatusResolved, by, note)
}

func (r *fakeConflictsRepo) Ignore(ctx context.Context, id, by, note string) error {
	return r.transition(id, models.ResolutionStatusIgnored, by, note)
}

type fakeChunkSetsRepo struct {
	mu   sync.Mutex
	sets []*models.ChunkSet
}

func (r *fakeChunkSetsRepo) ActiveHash(ctx context.Context, siteID string, sourceType models.EntityType, sourceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cs := range r.sets {
		if cs.Active && cs.SiteID == siteID && cs.SourceType == sourceType && cs.SourceID == sourceID {
			return cs.ContentHash, nil
		}
	}
	return "", common.ErrNotFound
}

func (r *fakeChunkSetsRepo) DeactivateActive(ctx context.Context, siteID string, sourceType models.EntityType, sourceID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, cs := range r.sets {
		if cs.Active && cs.SiteID == siteID && cs.SourceType == sourceType && cs.SourceID == sourceID {
			cs.Active = false
			cs.DeactivatedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *fakeChunkSetsRepo) Insert(ctx context.Context, cs *models.ChunkSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *cs
	r.sets = append(r.sets, &clone)
	return nil
}

func (r *fakeChunkSetsRepo) activeFor(siteID string, sourceType models.EntityType, sourceID string) []*models.ChunkSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ChunkSet
	for _, cs := range r.sets {
		if cs.Active && cs.SiteID == siteID && cs.SourceType == sourceType && cs.SourceID == sourceID {
			out = append(out, cs)
		}
	}
	return out
}

type fakeCostStatesRepo struct {
	mu    sync.Mutex
	byOrg map[string]*models.CostState
}

func (r *fakeCostStatesRepo) Get(ctx context.Context, organizationID string) (*models.CostState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byOrg[organizationID]
	if !ok {
		return &models.CostState{OrganizationID: organizationID, Tier: models.CostTierNormal}, nil
	}
	clone := *s
	return &clone, nil
}

func (r *fakeCostStatesRepo) Upsert(ctx context.Context, state *models.CostState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *state
	r.byOrg[state.OrganizationID] = &clone
	return nil
}

// fakeOrigin is a scriptable OriginClient.
type fakeOrigin struct {
	pages        map[wp.Resource][][]wp.Item
	itemsByID    map[int64]*wp.Item
	customFields map[int64]map[string]any
	created      []*wp.WritePayload
	updated      []*wp.WritePayload
	nextID       int64
	listErr      error
}

func (o *fakeOrigin) ListPage(ctx context.Context, creds *wp.Credentials, res wp.Resource, page, perPage int) ([]wp.Item, error) {
	if o.listErr != nil {
		return nil, o.listErr
	}
	pages := o.pages[res]
	if page > len(pages) {
		return nil, nil
	}
	return pages[page-1], nil
}

func (o *fakeOrigin) ListModifiedSince(ctx context.Context, creds *wp.Credentials, res wp.Resource, after time.Time, page, perPage int) ([]wp.Item, error) {
	if page > 1 {
		return nil, nil
	}
	var out []wp.Item
	for _, pg := range o.pages[res] {
		for _, item := range pg {
			if item.ModifiedGMT.After(after) {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func (o *fakeOrigin) Get(ctx context.Context, creds *wp.Credentials, res wp.Resource, id int64) (*wp.Item, error) {
	item, ok := o.itemsByID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return item, nil
}

func (o *fakeOrigin) GetCustomFields(ctx context.Context, creds *wp.Credentials, res wp.Resource, id int64) (map[string]any, error) {
	return o.customFields[id], nil
}

func (o *fakeOrigin) Create(ctx context.Context, creds *wp.Credentials, res wp.Resource, payload *wp.WritePayload, idemKey string) (*wp.Item, error) {
	o.created = append(o.created, payload)
	o.nextID++
	return &wp.Item{ID: 1000 + o.nextID, Status: payload.Status}, nil
}

func (o *fakeOrigin) Update(ctx context.Context, creds *wp.Credentials, res wp.Resource, id int64, payload *wp.WritePayload, idemKey string) (*wp.Item, error) {
	o.updated = append(o.updated, payload)
	return &wp.Item{ID: id, Status: payload.Status}, nil
}
