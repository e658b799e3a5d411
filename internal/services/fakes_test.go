package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stwalsh4118/appraisal/internal/models"
)

// memStore is an in-memory stand-in for PostgreSQL shared by the fake
// repositories below.
type memStore struct {
	records map[recordKey]models.PropertyRecord
	jobs    map[int64]*models.Job
	configs map[int64]models.NormalizationConfig
	sales   map[int64]map[string]models.TimeNormalizedSale
	hpi     []models.HPIRecord
	reports []models.ComparisonReport
	nextJob int64
	mu      sync.Mutex

	// upsertHook runs before each property upsert; a non-nil error fails the chunk.
	upsertHook func(ctx context.Context, chunk []models.PropertyRecord) error
	upserts    int
}

type recordKey struct {
	key     string
	jobID   int64
	version int
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[recordKey]models.PropertyRecord),
		jobs:    make(map[int64]*models.Job),
		configs: make(map[int64]models.NormalizationConfig),
		sales:   make(map[int64]map[string]models.TimeNormalizedSale),
		nextJob: 1,
	}
}

func (m *memStore) addJob(job models.Job) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = m.nextJob
	m.nextJob++
	m.jobs[job.ID] = &job
	return &job
}

func (m *memStore) put(rec models.PropertyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{jobID: rec.JobID, key: rec.CompositeKey, version: rec.FileVersion}] = rec
}

func (m *memStore) record(jobID int64, key string, version int) (models.PropertyRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{jobID: jobID, key: key, version: version}]
	return rec, ok
}

func (m *memStore) job(id int64) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		cp := *j
		return &cp
	}
	return nil
}

func (m *memStore) savedReports() []models.ComparisonReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ComparisonReport(nil), m.reports...)
}

type fakeProperties struct{ *memStore }

func (f fakeProperties) ListSnapshotPage(ctx context.Context, jobID int64, fileVersion, limit, offset int) ([]models.PropertyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []models.PropertyRecord
	for k, rec := range f.records {
		if k.jobID == jobID && k.version == fileVersion {
			all = append(all, rec)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CompositeKey < all[j].CompositeKey })
	if offset >= len(all) {
		return []models.PropertyRecord{}, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (f fakeProperties) UpsertRecords(ctx context.Context, records []models.PropertyRecord) error {
	f.mu.Lock()
	hook := f.upsertHook
	f.upserts++
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, records); err != nil {
			return err
		}
	}
	for _, rec := range records {
		f.put(rec)
	}
	return nil
}

func (f fakeProperties) UpdateNormalizedValues(ctx context.Context, jobID int64, updates []models.NormalizedValueUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		k := recordKey{jobID: jobID, key: u.CompositeKey, version: u.FileVersion}
		if rec, ok := f.records[k]; ok {
			rec.ValuesNormTime = u.Value
			f.records[k] = rec
		}
	}
	return nil
}

func (f fakeProperties) CountByVersion(ctx context.Context, jobID int64, fileVersion int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.records {
		if k.jobID == jobID && k.version == fileVersion {
			n++
		}
	}
	return n, nil
}

func (f fakeProperties) DeleteByJob(ctx context.Context, jobID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.records {
		if k.jobID == jobID {
			delete(f.records, k)
			n++
		}
	}
	return n, nil
}

type fakeJobs struct{ *memStore }

func (f fakeJobs) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return f.job(id), nil
}

func (f fakeJobs) CreateJob(ctx context.Context, job *models.Job) error {
	created := f.addJob(*job)
	job.ID = created.ID
	job.CreatedAt = time.Now().UTC()
	return nil
}

func (f fakeJobs) DeleteJob(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f fakeJobs) AdvanceFileVersion(ctx context.Context, jobID int64, expected int, uploadedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.FileVersion != expected {
		return false, nil
	}
	j.FileVersion++
	j.SourceFileUploadedAt = &uploadedAt
	return true, nil
}

func (f fakeJobs) GetNormalizationConfig(ctx context.Context, jobID int64) (*models.NormalizationConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.configs[jobID]; ok {
		return &cfg, nil
	}
	return nil, nil
}

func (f fakeJobs) SaveNormalizationConfig(ctx context.Context, jobID int64, cfg models.NormalizationConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[jobID] = cfg
	return nil
}

func (f fakeJobs) UpsertTimeNormalizedSales(ctx context.Context, sales []models.TimeNormalizedSale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range sales {
		if f.sales[s.JobID] == nil {
			f.sales[s.JobID] = make(map[string]models.TimeNormalizedSale)
		}
		f.sales[s.JobID][s.CompositeKey] = s
	}
	return nil
}

func (f fakeJobs) DeleteTimeNormalizedSales(ctx context.Context, jobID int64, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.sales[jobID], k)
	}
	return nil
}

func (f fakeJobs) ListTimeNormalizedSales(ctx context.Context, jobID int64) ([]models.TimeNormalizedSale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.TimeNormalizedSale{}
	for _, s := range f.sales[jobID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompositeKey < out[j].CompositeKey })
	return out, nil
}

type fakeHPI struct{ *memStore }

func (f fakeHPI) ListByCounty(ctx context.Context, county string) ([]models.HPIRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.HPIRecord{}
	for _, r := range f.hpi {
		if r.County == county {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeHPI) UpsertRecords(ctx context.Context, records []models.HPIRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hpi = append(f.hpi, records...)
	return nil
}

type fakeReports struct{ *memStore }

func (f fakeReports) InsertReport(ctx context.Context, r *models.ComparisonReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, *r)
	return nil
}

func (f fakeReports) ListByJob(ctx context.Context, jobID int64, limit int) ([]models.ComparisonReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.ComparisonReport{}
	for i := len(f.reports) - 1; i >= 0 && len(out) < limit; i-- {
		if f.reports[i].JobID == jobID {
			out = append(out, f.reports[i])
		}
	}
	return out, nil
}
