package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dripline/drip"
	"dripline/models"
)

var (
	_ drip.SequenceReader = (*MemorySequenceStore)(nil)
	_ drip.Ledger         = (*MemoryLedger)(nil)
	_ drip.DealDirectory  = (*MemoryDealDirectory)(nil)
)

// MemorySequenceStore is an in-process SequenceStore.
type MemorySequenceStore struct {
	mu        sync.RWMutex
	sequences map[uint]*models.DripSequence
	nextSeq   uint
	nextStep  uint
}

func NewMemorySequenceStore() *MemorySequenceStore {
	return &MemorySequenceStore{sequences: map[uint]*models.DripSequence{}}
}

func copySequence(seq *models.DripSequence) *models.DripSequence {
	out := *seq
	out.Steps = append([]models.DripStep(nil), seq.Steps...)
	return &out
}

func (m *MemorySequenceStore) GetSequence(_ context.Context, companyID, pipelineID, stageID uint) (*models.DripSequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, seq := range m.sequences {
		if seq.CompanyID == companyID && seq.PipelineID == pipelineID && seq.StageID == stageID {
			return copySequence(seq), nil
		}
	}
	return nil, nil
}

func (m *MemorySequenceStore) GetSequenceByID(_ context.Context, companyID, id uint) (*models.DripSequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seq, ok := m.sequences[id]
	if !ok || seq.CompanyID != companyID {
		return nil, fmt.Errorf("%w: id=%d", ErrSequenceNotFound, id)
	}
	return copySequence(seq), nil
}

func (m *MemorySequenceStore) ExistingSequenceIDs(_ context.Context, companyID uint, ids []uint) ([]uint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []uint
	for _, id := range ids {
		if seq, ok := m.sequences[id]; ok && seq.CompanyID == companyID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemorySequenceStore) ListSequences(_ context.Context, companyID, pipelineID uint) ([]models.DripSequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.DripSequence
	for _, seq := range m.sequences {
		if seq.CompanyID != companyID || (pipelineID != 0 && seq.PipelineID != pipelineID) {
			continue
		}
		out = append(out, *copySequence(seq))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PipelineID != out[j].PipelineID {
			return out[i].PipelineID < out[j].PipelineID
		}
		return out[i].StageID < out[j].StageID
	})
	return out, nil
}

func (m *MemorySequenceStore) UpsertSequence(_ context.Context, seq *models.DripSequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, existing := range m.sequences {
		if existing.CompanyID == seq.CompanyID && existing.PipelineID == seq.PipelineID && existing.StageID == seq.StageID {
			existing.Name = seq.Name
			existing.IsEnabled = seq.IsEnabled
			existing.UpdatedAt = now
			*seq = *copySequence(existing)
			return nil
		}
	}

	m.nextSeq++
	row := &models.DripSequence{
		CompanyID:  seq.CompanyID,
		PipelineID: seq.PipelineID,
		StageID:    seq.StageID,
		Name:       seq.Name,
		IsEnabled:  seq.IsEnabled,
	}
	row.ID = m.nextSeq
	row.CreatedAt, row.UpdatedAt = now, now
	m.sequences[row.ID] = row
	*seq = *copySequence(row)
	return nil
}

func (m *MemorySequenceStore) DeleteSequence(_ context.Context, companyID, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.sequences[id]
	if !ok || seq.CompanyID != companyID {
		return fmt.Errorf("%w: id=%d", ErrSequenceNotFound, id)
	}
	delete(m.sequences, id)
	return nil
}

func (m *MemorySequenceStore) owned(companyID, sequenceID uint) (*models.DripSequence, error) {
	seq, ok := m.sequences[sequenceID]
	if !ok || seq.CompanyID != companyID {
		return nil, fmt.Errorf("%w: id=%d", ErrSequenceNotFound, sequenceID)
	}
	return seq, nil
}

func (m *MemorySequenceStore) stepOwner(companyID, stepID uint) (*models.DripSequence, int) {
	for _, seq := range m.sequences {
		if seq.CompanyID != companyID {
			continue
		}
		for i := range seq.Steps {
			if seq.Steps[i].ID == stepID {
				return seq, i
			}
		}
	}
	return nil, -1
}

func (m *MemorySequenceStore) CreateStep(_ context.Context, companyID, sequenceID uint, step *models.DripStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.owned(companyID, sequenceID)
	if err != nil {
		return err
	}

	m.nextStep++
	row := *step
	row.ID = m.nextStep
	row.SequenceID = sequenceID
	row.CreatedAt, row.UpdatedAt = time.Now(), time.Now()

	ordered, err := insertAt(seq.Steps, row, step.Position)
	if err != nil {
		m.nextStep--
		return err
	}
	seq.Steps = ordered
	for _, s := range ordered {
		if s.ID == row.ID {
			*step = s
		}
	}
	return nil
}

func (m *MemorySequenceStore) UpdateStep(_ context.Context, companyID, stepID uint, patch models.DripStep) (*models.DripStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, i := m.stepOwner(companyID, stepID)
	if seq == nil {
		return nil, fmt.Errorf("%w: id=%d", ErrStepNotFound, stepID)
	}
	s := &seq.Steps[i]
	s.DelayType = patch.DelayType
	s.DelayValue = patch.DelayValue
	s.DelayUnit = patch.DelayUnit
	s.Channel = patch.Channel
	s.EmailSubject = patch.EmailSubject
	s.EmailBody = patch.EmailBody
	s.SMSBody = patch.SMSBody
	s.UpdatedAt = time.Now()

	out := *s
	return &out, nil
}

func (m *MemorySequenceStore) DeleteStep(_ context.Context, companyID, stepID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, _ := m.stepOwner(companyID, stepID)
	if seq == nil {
		return fmt.Errorf("%w: id=%d", ErrStepNotFound, stepID)
	}
	seq.Steps, _ = without(seq.Steps, stepID)
	return nil
}

func (m *MemorySequenceStore) ReorderSteps(_ context.Context, companyID, sequenceID uint, stepIDs []uint) ([]models.DripStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.owned(companyID, sequenceID)
	if err != nil {
		return nil, err
	}
	ordered, err := reorder(seq.Steps, stepIDs)
	if err != nil {
		return nil, err
	}
	seq.Steps = ordered
	return append([]models.DripStep(nil), ordered...), nil
}

// MemoryLedger is an in-process Ledger with the same conditional transition
// rules as JobLedger.
type MemoryLedger struct {
	mu     sync.Mutex
	jobs   map[uint]*models.ScheduledJob
	nextID uint
	now    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{jobs: map[uint]*models.ScheduledJob{}, now: time.Now}
}

func (m *MemoryLedger) filter(keep func(*models.ScheduledJob) bool) []models.ScheduledJob {
	var out []models.ScheduledJob
	for _, job := range m.jobs {
		if keep(job) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SequenceID != out[j].SequenceID {
			return out[i].SequenceID < out[j].SequenceID
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryLedger) createLocked(job *models.ScheduledJob) bool {
	key := job.Key()
	for _, existing := range m.jobs {
		if existing.Key() == key && !existing.Status.IsCancelled() {
			return false
		}
	}

	m.nextID++
	row := *job
	row.ID = m.nextID
	row.Status = models.JobPending
	row.CreatedAt, row.UpdatedAt = m.now(), m.now()
	m.jobs[row.ID] = &row
	*job = row
	return true
}

func (m *MemoryLedger) cancelLocked(id uint) bool {
	job, ok := m.jobs[id]
	if !ok || !job.Status.IsPending() {
		return false
	}
	now := m.now()
	job.Status = models.JobCancelled
	job.CancelledAt = &now
	job.UpdatedAt = now
	return true
}

func (m *MemoryLedger) CreateJob(_ context.Context, job *models.ScheduledJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(job), nil
}

func (m *MemoryLedger) CancelJob(_ context.Context, id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelLocked(id), nil
}

func (m *MemoryLedger) ListPendingForDealSequence(_ context.Context, dealID, sequenceID uint) ([]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(j *models.ScheduledJob) bool {
		return j.DealID == dealID && j.SequenceID == sequenceID && j.Status.IsPending()
	}), nil
}

func (m *MemoryLedger) ListForDealSequence(_ context.Context, dealID, sequenceID uint) ([]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(j *models.ScheduledJob) bool {
		return j.DealID == dealID && j.SequenceID == sequenceID && !j.Status.IsCancelled()
	}), nil
}

func (m *MemoryLedger) ListPendingForDeal(_ context.Context, dealID uint) ([]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(j *models.ScheduledJob) bool {
		return j.DealID == dealID && j.Status.IsPending()
	}), nil
}

func (m *MemoryLedger) ListForDeal(_ context.Context, companyID, dealID uint) ([]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(j *models.ScheduledJob) bool {
		return j.CompanyID == companyID && j.DealID == dealID
	}), nil
}

func (m *MemoryLedger) GetJob(_ context.Context, companyID, id uint) (*models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.CompanyID != companyID {
		return nil, fmt.Errorf("%w: id=%d", ErrJobNotFound, id)
	}
	out := *job
	return &out, nil
}

func (m *MemoryLedger) ListDueJobs(_ context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := m.filter(func(j *models.ScheduledJob) bool {
		return j.Status.IsPending() && !j.FireAt.After(now)
	})
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].FireAt.Equal(due[j].FireAt) {
			return due[i].FireAt.Before(due[j].FireAt)
		}
		if due[i].Position != due[j].Position {
			return due[i].Position < due[j].Position
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryLedger) Apply(_ context.Context, creates []models.ScheduledJob, cancels []uint) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var created, cancelled int
	for _, id := range cancels {
		if m.cancelLocked(id) {
			cancelled++
		}
	}
	for i := range creates {
		job := creates[i]
		if m.createLocked(&job) {
			created++
		}
	}
	return created, cancelled, nil
}

func (m *MemoryLedger) ClaimJob(_ context.Context, id uint, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || !job.Status.IsPending() {
		return false, nil
	}
	job.Status = models.JobSending
	job.ClaimToken = token
	job.ClaimedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (m *MemoryLedger) MarkSent(_ context.Context, id uint, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.claimedLocked(id, token)
	if err != nil {
		return err
	}
	job.Status = models.JobSent
	job.SentAt = &at
	job.FailureReason = ""
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryLedger) MarkFailed(_ context.Context, id uint, token string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.claimedLocked(id, token)
	if err != nil {
		return err
	}
	job.Status = models.JobFailed
	job.FailureReason = reason
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryLedger) claimedLocked(id uint, token string) (*models.ScheduledJob, error) {
	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobSending || job.ClaimToken != token {
		return nil, fmt.Errorf("%w: job=%d", ErrNotUpdated, id)
	}
	return job, nil
}

func (m *MemoryLedger) ExpireClaims(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, job := range m.jobs {
		if job.Status == models.JobSending && job.ClaimedAt != nil && job.ClaimedAt.Before(cutoff) {
			job.Status = models.JobFailed
			job.FailureReason = "claim expired before delivery was confirmed"
			job.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *MemoryLedger) PruneTerminal(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(before) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// MemoryDealDirectory serves deals registered with Put.
type MemoryDealDirectory struct {
	mu    sync.RWMutex
	deals map[uint]models.Deal
}

func NewMemoryDealDirectory() *MemoryDealDirectory {
	return &MemoryDealDirectory{deals: map[uint]models.Deal{}}
}

func (m *MemoryDealDirectory) Put(deal models.Deal) {
	m.mu.Lock()
	m.deals[deal.ID] = deal
	m.mu.Unlock()
}

func (m *MemoryDealDirectory) GetDeal(_ context.Context, companyID, dealID uint) (*drip.DealContext, error) {
	m.mu.RLock()
	deal, ok := m.deals[dealID]
	m.mu.RUnlock()
	if !ok || deal.CompanyID != companyID {
		return nil, fmt.Errorf("%w: company=%d deal=%d", drip.ErrDealNotFound, companyID, dealID)
	}
	return DealContextOf(deal), nil
}
