package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/kaeldominion/CrowdStack-sub002/internal/domain"
)

// MemoryCloseoutRepository is an in-memory CloseoutRepository. Writes made in
// WithinEventTx are staged and only become visible when fn succeeds.
type MemoryCloseoutRepository struct {
	mu          sync.RWMutex
	events      map[string]domain.Event
	models      map[string][]domain.CommissionModel
	checkins    map[string][]domain.CheckinRecord
	adjustments map[string]map[string]domain.PromoterAdjustment
	statuses    map[string]domain.CloseoutStatus
	closures    map[string]*domain.ClosureRecord
	transitions map[string][]domain.CloseoutTransition

	locksMu    sync.Mutex
	eventLocks map[string]*sync.Mutex
}

// NewMemoryCloseoutRepository creates an empty repository
func NewMemoryCloseoutRepository() *MemoryCloseoutRepository {
	return &MemoryCloseoutRepository{
		events:      make(map[string]domain.Event),
		models:      make(map[string][]domain.CommissionModel),
		checkins:    make(map[string][]domain.CheckinRecord),
		adjustments: make(map[string]map[string]domain.PromoterAdjustment),
		statuses:    make(map[string]domain.CloseoutStatus),
		closures:    make(map[string]*domain.ClosureRecord),
		transitions: make(map[string][]domain.CloseoutTransition),
		eventLocks:  make(map[string]*sync.Mutex),
	}
}

// PutEvent stores an event
func (r *MemoryCloseoutRepository) PutEvent(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = event
}

// AssignPromoter adds or replaces a promoter's commission model for the event
func (r *MemoryCloseoutRepository) AssignPromoter(eventID string, model domain.CommissionModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	models := r.models[eventID]
	for i := range models {
		if models[i].PromoterID == model.PromoterID {
			models[i] = model.Clone()
			return
		}
	}
	r.models[eventID] = append(models, model.Clone())
}

// AddCheckin records a check-in
func (r *MemoryCloseoutRepository) AddCheckin(eventID string, rec domain.CheckinRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkins[eventID] = append(r.checkins[eventID], rec)
}

// SetCheckinUndone flips the undone flag of a registration's check-in
func (r *MemoryCloseoutRepository) SetCheckinUndone(eventID, registrationID string, undone bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.checkins[eventID] {
		if r.checkins[eventID][i].RegistrationID == registrationID {
			r.checkins[eventID][i].Undone = undone
		}
	}
}

// GetEvent implements EventSource
func (r *MemoryCloseoutRepository) GetEvent(_ context.Context, eventID string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[eventID]
	if !ok {
		return nil, nil
	}
	_, event.Closed = r.closures[eventID]
	return &event, nil
}

// ListCommissionModels implements CommissionSource, ordered by promoter id
func (r *MemoryCloseoutRepository) ListCommissionModels(_ context.Context, eventID string) ([]domain.CommissionModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]domain.CommissionModel, len(r.models[eventID]))
	for i, m := range r.models[eventID] {
		models[i] = m.Clone()
	}
	sort.Slice(models, func(i, j int) bool { return models[i].PromoterID < models[j].PromoterID })
	return models, nil
}

// ListCheckins implements CheckinSource
func (r *MemoryCloseoutRepository) ListCheckins(_ context.Context, eventID, promoterID string) ([]domain.CheckinRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var records []domain.CheckinRecord
	for _, rec := range r.checkins[eventID] {
		if rec.PromoterID == promoterID {
			records = append(records, rec)
		}
	}
	return records, nil
}

// ListAdjustments implements CloseoutReader
func (r *MemoryCloseoutRepository) ListAdjustments(_ context.Context, eventID string) ([]domain.PromoterAdjustment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedAdjustments(r.adjustments[eventID]), nil
}

// GetStatus implements CloseoutReader
func (r *MemoryCloseoutRepository) GetStatus(_ context.Context, eventID string) (domain.CloseoutStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if status, ok := r.statuses[eventID]; ok {
		return status, nil
	}
	return domain.CloseoutOpen, nil
}

// GetClosure implements CloseoutReader
func (r *MemoryCloseoutRepository) GetClosure(_ context.Context, eventID string) (*domain.ClosureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closures[eventID].Clone(), nil
}

// ListTransitions implements CloseoutRepository
func (r *MemoryCloseoutRepository) ListTransitions(_ context.Context, eventID string) ([]domain.CloseoutTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CloseoutTransition, len(r.transitions[eventID]))
	copy(out, r.transitions[eventID])
	return out, nil
}

// WithinEventTx implements CloseoutRepository. Calls for the same event are serialized.
func (r *MemoryCloseoutRepository) WithinEventTx(ctx context.Context, eventID string, fn func(ctx context.Context, tx CloseoutTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := r.eventLock(eventID)
	lock.Lock()
	defer lock.Unlock()

	tx := r.begin(eventID)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return r.commit(tx)
}

func (r *MemoryCloseoutRepository) eventLock(eventID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.eventLocks[eventID]
	if !ok {
		l = &sync.Mutex{}
		r.eventLocks[eventID] = l
	}
	return l
}

func (r *MemoryCloseoutRepository) begin(eventID string) *memoryTx {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx := &memoryTx{
		repo:        r,
		eventID:     eventID,
		adjustments: make(map[string]domain.PromoterAdjustment, len(r.adjustments[eventID])),
		status:      domain.CloseoutOpen,
		closure:     r.closures[eventID].Clone(),
	}
	for k, v := range r.adjustments[eventID] {
		tx.adjustments[k] = v.Clone()
	}
	if status, ok := r.statuses[eventID]; ok {
		tx.status = status
	}
	return tx
}

func (r *MemoryCloseoutRepository) commit(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.newClosure != nil {
		if existing, ok := r.closures[tx.eventID]; ok {
			return &domain.AlreadyClosedError{Record: existing.Clone()}
		}
		r.closures[tx.eventID] = tx.newClosure.Clone()
	}
	r.adjustments[tx.eventID] = tx.adjustments
	r.statuses[tx.eventID] = tx.status
	r.transitions[tx.eventID] = append(r.transitions[tx.eventID], tx.newTransitions...)
	return nil
}

// memoryTx stages writes for one event
type memoryTx struct {
	repo    *MemoryCloseoutRepository
	eventID string

	adjustments    map[string]domain.PromoterAdjustment
	status         domain.CloseoutStatus
	closure        *domain.ClosureRecord
	newClosure     *domain.ClosureRecord
	newTransitions []domain.CloseoutTransition
}

func (t *memoryTx) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	event, err := t.repo.GetEvent(ctx, eventID)
	if err != nil || event == nil {
		return event, err
	}
	if eventID == t.eventID {
		event.Closed = t.closure != nil || t.newClosure != nil
	}
	return event, nil
}

func (t *memoryTx) ListCommissionModels(ctx context.Context, eventID string) ([]domain.CommissionModel, error) {
	return t.repo.ListCommissionModels(ctx, eventID)
}

func (t *memoryTx) ListCheckins(ctx context.Context, eventID, promoterID string) ([]domain.CheckinRecord, error) {
	return t.repo.ListCheckins(ctx, eventID, promoterID)
}

func (t *memoryTx) ListAdjustments(ctx context.Context, eventID string) ([]domain.PromoterAdjustment, error) {
	if eventID != t.eventID {
		return t.repo.ListAdjustments(ctx, eventID)
	}
	return sortedAdjustments(t.adjustments), nil
}

func (t *memoryTx) GetStatus(ctx context.Context, eventID string) (domain.CloseoutStatus, error) {
	if eventID != t.eventID {
		return t.repo.GetStatus(ctx, eventID)
	}
	return t.status, nil
}

func (t *memoryTx) GetClosure(ctx context.Context, eventID string) (*domain.ClosureRecord, error) {
	if eventID != t.eventID {
		return t.repo.GetClosure(ctx, eventID)
	}
	if t.newClosure != nil {
		return t.newClosure.Clone(), nil
	}
	return t.closure.Clone(), nil
}

func (t *memoryTx) SaveAdjustment(_ context.Context, adj *domain.PromoterAdjustment) error {
	t.adjustments[adj.PromoterID] = adj.Clone()
	return nil
}

func (t *memoryTx) SaveTransition(_ context.Context, tr *domain.CloseoutTransition) error {
	t.newTransitions = append(t.newTransitions, *tr)
	t.status = tr.ToStatus
	return nil
}

func (t *memoryTx) InsertClosure(_ context.Context, rec *domain.ClosureRecord) error {
	if existing := t.closure; existing != nil {
		return &domain.AlreadyClosedError{Record: existing.Clone()}
	}
	if t.newClosure != nil {
		return &domain.AlreadyClosedError{Record: t.newClosure.Clone()}
	}
	t.newClosure = rec.Clone()
	return nil
}

func sortedAdjustments(m map[string]domain.PromoterAdjustment) []domain.PromoterAdjustment {
	out := make([]domain.PromoterAdjustment, 0, len(m))
	for _, adj := range m {
		out = append(out, adj.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromoterID < out[j].PromoterID })
	return out
}
