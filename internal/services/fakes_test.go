package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"reservo_app_echo/internal/models"
)

type fakeGateway struct {
	mu sync.Mutex

	createResp *GatewayTransaction
	createErr  error
	getResp    *GatewayTransaction
	getErr     error
	recurResp  *GatewayTransaction
	recurErr   error
	token      string

	createCalls int
	getCalls    int
	recurCalls  int
	lastCreate  CreateTransactionRequest
	lastRecur   RecurringTransactionRequest
}

func (g *fakeGateway) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*GatewayTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastCreate = req
	return g.createResp, g.createErr
}

func (g *fakeGateway) GetTransaction(ctx context.Context, transactionID string) (*GatewayTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	return g.getResp, g.getErr
}

func (g *fakeGateway) CreateRecurringTransaction(ctx context.Context, req RecurringTransactionRequest) (*GatewayTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recurCalls++
	g.lastRecur = req
	return g.recurResp, g.recurErr
}

func (g *fakeGateway) AcceptanceToken(ctx context.Context) (string, error) {
	return g.token, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	bodies []interface{}
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}

type memLedger struct {
	mu        sync.Mutex
	nextID    uint
	attempts  []*models.PaymentAttempt
	histories []models.PaymentAttemptHistory
	receipts  *memReceiptRepo
	createErr error
}

func (l *memLedger) Create(ctx context.Context, attempt *models.PaymentAttempt, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		return l.createErr
	}
	if err := attempt.BeforeCreate(nil); err != nil {
		return err
	}
	for _, a := range l.attempts {
		if a.TransactionID == attempt.TransactionID {
			return fmt.Errorf("duplicate transaction id %s", attempt.TransactionID)
		}
	}
	l.nextID++
	attempt.ID = l.nextID
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().Add(time.Duration(l.nextID) * time.Millisecond)
	}
	stored := *attempt
	l.attempts = append(l.attempts, &stored)
	l.histories = append(l.histories, historyEntry(&stored, "", note))
	return nil
}

func (l *memLedger) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.attempts {
		if a.TransactionID == transactionID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (l *memLedger) ApplyUpdate(ctx context.Context, transactionID string, upd AttemptUpdate) (UpdateOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out UpdateOutcome
	for _, a := range l.attempts {
		if a.TransactionID != transactionID {
			continue
		}
		out.Previous = a.Status
		switch {
		case a.Status == upd.Status:
		case !a.Status.CanTransitionTo(upd.Status):
			out.Rejected = true
		default:
			upd.applyTo(a, time.Now())
			l.histories = append(l.histories, historyEntry(a, out.Previous, upd.Note))
			out.Changed = true
		}
		cp := *a
		out.Attempt = &cp
		return out, nil
	}
	return out, ErrPaymentNotFound
}

func (l *memLedger) LatestRenewableSource(ctx context.Context, businessID uint) (*models.PaymentAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var best *models.PaymentAttempt
	for _, a := range l.attempts {
		if a.BusinessID != businessID || !a.AutoRenew || !a.HasUsableInstrument() {
			continue
		}
		if best == nil || a.CreatedAt.After(best.CreatedAt) {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (l *memLedger) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.PaymentAttempt
	for _, a := range l.attempts {
		if (a.Status == models.PaymentStatusPending || a.Status == models.PaymentStatusStepUpPending) && a.CreatedAt.Before(createdBefore) {
			out = append(out, *a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) ListCompletedWithoutReceipt(ctx context.Context, limit int) ([]models.PaymentAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.PaymentAttempt
	for _, a := range l.attempts {
		if a.Status != models.PaymentStatusCompleted {
			continue
		}
		st, id, ok := receiptSourceOf(a)
		if !ok {
			continue
		}
		if l.receipts != nil {
			if l.receipts.hasReceiptFor(st, id) {
				continue
			}
			if st != models.SourceTypeSubscriptionCharge {
				src, err := l.receipts.LoadSource(ctx, st, id)
				if err != nil || !src.FullyPaid {
					continue
				}
			}
		}
		out = append(out, *a)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) get(transactionID string) models.PaymentAttempt {
	a, _ := l.FindByTransactionID(context.Background(), transactionID)
	return *a
}

type sourceKey struct {
	t  models.SourceType
	id uint
}

// memReceiptRepo serializes WithTenantLock per business and enforces the receipt unique indexes
type memReceiptRepo struct {
	mu         sync.Mutex
	locks      map[uint]*sync.Mutex
	businesses map[uint]*models.Business
	sources    map[sourceKey]*ReceiptSource
	receipts   []*models.Receipt
	nextID     uint

	// inside counts concurrent holders per business; maxInside records the peak
	inside    map[uint]int
	maxInside map[uint]int
	// onLocked runs while the tenant lock is held
	onLocked func()
}

func newMemReceiptRepo() *memReceiptRepo {
	return &memReceiptRepo{
		locks:      map[uint]*sync.Mutex{},
		businesses: map[uint]*models.Business{},
		sources:    map[sourceKey]*ReceiptSource{},
		inside:     map[uint]int{},
		maxInside:  map[uint]int{},
	}
}

func (r *memReceiptRepo) addBusiness(b models.Business) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.businesses[b.ID] = &b
}

func (r *memReceiptRepo) addSource(src ReceiptSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[sourceKey{src.Type, src.ID}] = &src
}

func (r *memReceiptRepo) tenantLock(businessID uint) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[businessID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[businessID] = m
	}
	return m
}

func (r *memReceiptRepo) WithTenantLock(ctx context.Context, businessID uint, fn func(tx ReceiptTx) error) error {
	lock := r.tenantLock(businessID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	r.inside[businessID]++
	if r.inside[businessID] > r.maxInside[businessID] {
		r.maxInside[businessID] = r.inside[businessID]
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inside[businessID]--
		r.mu.Unlock()
	}()

	if r.onLocked != nil {
		r.onLocked()
	}

	tx := &memReceiptTx{repo: r, highWater: map[uint]int64{}}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (r *memReceiptRepo) LoadSource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*ReceiptSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[sourceKey{sourceType, sourceID}]
	if !ok {
		return nil, ErrReceiptSourceNotFound
	}
	cp := *src
	return &cp, nil
}

func (r *memReceiptRepo) FindActiveBySource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked(sourceType, sourceID), nil
}

func (r *memReceiptRepo) activeLocked(sourceType models.SourceType, sourceID uint) *models.Receipt {
	for _, rc := range r.receipts {
		if rc.SourceType == sourceType && rc.SourceID == sourceID && rc.Status == models.ReceiptStatusActive {
			cp := *rc
			return &cp
		}
	}
	return nil
}

// hasReceiptFor reports whether the source ever had a receipt, cancelled ones included
func (r *memReceiptRepo) hasReceiptFor(sourceType models.SourceType, sourceID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rc := range r.receipts {
		if rc.SourceType == sourceType && rc.SourceID == sourceID {
			return true
		}
	}
	return false
}

func (r *memReceiptRepo) FindByID(ctx context.Context, id uint) (*models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rc := range r.receipts {
		if rc.ID == id {
			cp := *rc
			return &cp, nil
		}
	}
	return nil, ErrReceiptNotFound
}

func (r *memReceiptRepo) Cancel(ctx context.Context, id uint, reason string, at time.Time) (*models.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rc := range r.receipts {
		if rc.ID != id {
			continue
		}
		if rc.Status != models.ReceiptStatusActive {
			return nil, ErrReceiptNotActive
		}
		rc.Status = models.ReceiptStatusCancelled
		rc.CancelledAt = &at
		rc.CancelReason = reason
		cp := *rc
		return &cp, nil
	}
	return nil, ErrReceiptNotFound
}

func (r *memReceiptRepo) MarkDelivered(ctx context.Context, id uint, channel models.DeliveryChannel, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rc := range r.receipts {
		if rc.ID != id {
			continue
		}
		if channel == models.DeliveryChannelWhatsapp {
			rc.SentViaWhatsappAt = &at
		} else {
			rc.SentViaEmailAt = &at
		}
		return nil
	}
	return ErrReceiptNotFound
}

func (r *memReceiptRepo) all() []models.Receipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Receipt, 0, len(r.receipts))
	for _, rc := range r.receipts {
		out = append(out, *rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memReceiptTx struct {
	repo      *memReceiptRepo
	staged    []*models.Receipt
	highWater map[uint]int64
}

func (t *memReceiptTx) LoadSource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*ReceiptSource, error) {
	return t.repo.LoadSource(ctx, sourceType, sourceID)
}

func (t *memReceiptTx) LockBusiness(ctx context.Context, businessID uint) (models.Business, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	b, ok := t.repo.businesses[businessID]
	if !ok {
		return models.Business{}, ErrBusinessNotFound
	}
	return *b, nil
}

func (t *memReceiptTx) FindActiveBySource(ctx context.Context, sourceType models.SourceType, sourceID uint) (*models.Receipt, error) {
	for _, rc := range t.staged {
		if rc.SourceType == sourceType && rc.SourceID == sourceID && rc.Status == models.ReceiptStatusActive {
			cp := *rc
			return &cp, nil
		}
	}
	return t.repo.FindActiveBySource(ctx, sourceType, sourceID)
}

func (t *memReceiptTx) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, rc := range t.visibleLocked() {
		if rc.BusinessID != receipt.BusinessID {
			continue
		}
		if rc.ReceiptNumber == receipt.ReceiptNumber {
			return fmt.Errorf("duplicate receipt number %s", receipt.ReceiptNumber)
		}
		if rc.SequenceYear == receipt.SequenceYear && rc.SequenceNumber == receipt.SequenceNumber {
			return fmt.Errorf("duplicate sequence %d/%d", receipt.SequenceYear, receipt.SequenceNumber)
		}
	}
	if t.repo.activeLocked(receipt.SourceType, receipt.SourceID) != nil {
		return fmt.Errorf("active receipt already exists for %s %d", receipt.SourceType, receipt.SourceID)
	}
	t.staged = append(t.staged, receipt)
	return nil
}

func (t *memReceiptTx) MaxSequence(ctx context.Context, businessID uint, year *int) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var highest int64
	for _, rc := range t.visibleLocked() {
		if rc.BusinessID != businessID || (year != nil && rc.SequenceYear != *year) {
			continue
		}
		if rc.SequenceNumber > highest {
			highest = rc.SequenceNumber
		}
	}
	return highest, nil
}

func (t *memReceiptTx) ReceiptNumbersLike(ctx context.Context, businessID uint, pattern string) ([]string, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var out []string
	for _, rc := range t.visibleLocked() {
		if rc.BusinessID == businessID {
			out = append(out, rc.ReceiptNumber)
		}
	}
	return out, nil
}

func (t *memReceiptTx) SaveHighWaterMark(ctx context.Context, businessID uint, number int64) error {
	t.highWater[businessID] = number
	return nil
}

func (t *memReceiptTx) visibleLocked() []*models.Receipt {
	out := make([]*models.Receipt, 0, len(t.repo.receipts)+len(t.staged))
	out = append(out, t.repo.receipts...)
	return append(out, t.staged...)
}

func (t *memReceiptTx) commit() error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, rc := range t.staged {
		t.repo.nextID++
		rc.ID = t.repo.nextID
		t.repo.receipts = append(t.repo.receipts, rc)
	}
	for id, n := range t.highWater {
		if b, ok := t.repo.businesses[id]; ok {
			b.ReceiptNumbering.LastIssuedNumber = n
		}
	}
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[uint]bool
}

func (l *fakeLocker) Acquire(ctx context.Context, businessID uint) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[uint]bool{}
	}
	if l.held[businessID] {
		return nil, ErrRenewalInProgress
	}
	l.held[businessID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, businessID)
	}, nil
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
