package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservo_app_echo/internal/models"
)

func paidAppointment(id, businessID uint) ReceiptSource {
	return ReceiptSource{
		Type:          models.SourceTypeAppointment,
		ID:            id,
		BusinessID:    businessID,
		FullyPaid:     true,
		Currency:      "cop",
		Subtotal:      50000,
		Discount:      5000,
		Tax:           8550,
		Tip:           2000,
		Total:         55550,
		PayerName:     fmt.Sprintf("Customer %d", id),
		PayerEmail:    "customer@example.com",
		PerformerName: "Laura",
		Description:   "Haircut",
	}
}

func newTestReceiptService() (*ReceiptService, *memReceiptRepo, *recordingPublisher) {
	repo := newMemReceiptRepo()
	pub := &recordingPublisher{}
	svc := NewReceiptService(repo, pub, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC) }
	return svc, repo, pub
}

func TestIssueReceiptSnapshot(t *testing.T) {
	svc, repo, pub := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1, Currency: "COP", ReceiptNumbering: models.ReceiptNumbering{
		Template: "REC-{YEAR}-{NUMBER}", PadLength: 5,
	}})
	repo.addSource(paidAppointment(10, 1))

	receipt, err := svc.IssueReceipt(context.Background(), models.SourceTypeAppointment, 10)
	require.NoError(t, err)

	assert.Equal(t, "REC-2024-00001", receipt.ReceiptNumber)
	assert.Equal(t, int64(1), receipt.SequenceNumber)
	assert.Equal(t, models.ReceiptStatusActive, receipt.Status)
	assert.Equal(t, "COP", receipt.Currency)
	assert.Equal(t, int64(55550), receipt.Total)
	assert.Equal(t, "Customer 10", receipt.PayerName)
	assert.Equal(t, "Laura", receipt.PerformerName)
	assert.Equal(t, 1, pub.count(RoutingKeyReceiptIssued))

	// Later edits to the source do not rewrite the issued document
	src := paidAppointment(10, 1)
	src.PayerName = "Renamed"
	repo.addSource(src)

	again, err := svc.IssueReceipt(context.Background(), models.SourceTypeAppointment, 10)
	require.NoError(t, err)
	assert.Equal(t, receipt.ID, again.ID)
	assert.Equal(t, "Customer 10", again.PayerName)
	assert.Len(t, repo.all(), 1)
	assert.Equal(t, 1, pub.count(RoutingKeyReceiptIssued))
}

func TestIssueReceiptRequiresFullyPaidSource(t *testing.T) {
	svc, repo, _ := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1})
	src := paidAppointment(11, 1)
	src.FullyPaid = false
	repo.addSource(src)

	_, err := svc.IssueReceipt(context.Background(), models.SourceTypeAppointment, 11)
	assert.ErrorIs(t, err, ErrSourceNotFullyPaid)
	assert.Empty(t, repo.all())

	_, err = svc.IssueReceipt(context.Background(), models.SourceTypeSale, 999)
	assert.ErrorIs(t, err, ErrReceiptSourceNotFound)
}

func TestIssueForCompletedPayment(t *testing.T) {
	svc, repo, _ := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1})
	repo.addSource(paidAppointment(12, 1))
	sourceID := uint(12)

	pending := &models.PaymentAttempt{ID: 5, TransactionID: "tx", Status: models.PaymentStatusPending, SourceType: models.SourceTypeAppointment, SourceID: &sourceID}
	_, err := svc.IssueForCompletedPayment(context.Background(), pending)
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)

	orphan := &models.PaymentAttempt{ID: 6, TransactionID: "tx2", Status: models.PaymentStatusCompleted}
	_, err = svc.IssueForCompletedPayment(context.Background(), orphan)
	assert.ErrorIs(t, err, ErrReceiptSourceNotFound)

	pending.Status = models.PaymentStatusCompleted
	receipt, err := svc.IssueForCompletedPayment(context.Background(), pending)
	require.NoError(t, err)
	assert.Equal(t, uint(12), receipt.SourceID)
	assert.Equal(t, "-000001", receipt.ReceiptNumber)
}

func TestConcurrentIssuanceSerializesPerTenant(t *testing.T) {
	const n = 25
	svc, repo, _ := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1, ReceiptNumbering: models.ReceiptNumbering{Prefix: "A", Template: "{PREFIX}-{NUMBER}", PadLength: 4}})
	repo.addBusiness(models.Business{ID: 2, ReceiptNumbering: models.ReceiptNumbering{Prefix: "B", Template: "{PREFIX}-{NUMBER}", PadLength: 4}})
	for i := uint(1); i <= n; i++ {
		repo.addSource(paidAppointment(i, 1))
		repo.addSource(paidAppointment(1000+i, 2))
	}
	// Widen the race window inside the lock
	repo.onLocked = func() { time.Sleep(time.Millisecond) }

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := uint(1); i <= n; i++ {
		for _, id := range []uint{i, 1000 + i} {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				if _, err := svc.IssueReceipt(context.Background(), models.SourceTypeAppointment, id); err != nil {
					errs <- err
				}
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	byTenant := map[uint][]models.Receipt{}
	for _, r := range repo.all() {
		byTenant[r.BusinessID] = append(byTenant[r.BusinessID], r)
	}

	for businessID, receipts := range byTenant {
		require.Len(t, receipts, n)
		assert.Equal(t, 1, repo.maxInside[businessID], "tenant %d lock was not exclusive", businessID)

		// Commit order is allocation order
		numbers := map[string]bool{}
		for i, r := range receipts {
			assert.Equal(t, int64(i+1), r.SequenceNumber)
			assert.False(t, numbers[r.ReceiptNumber], "duplicate %s", r.ReceiptNumber)
			numbers[r.ReceiptNumber] = true
		}
		assert.True(t, sort.SliceIsSorted(receipts, func(i, j int) bool {
			return receipts[i].SequenceNumber < receipts[j].SequenceNumber
		}))
	}
	assert.Equal(t, "A-0025", byTenant[1][n-1].ReceiptNumber)
	assert.Equal(t, "B-0025", byTenant[2][n-1].ReceiptNumber)
}

func TestConcurrentIssuanceForSameSourceIsIdempotent(t *testing.T) {
	svc, repo, pub := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1})
	repo.addSource(paidAppointment(7, 1))

	var wg sync.WaitGroup
	ids := make(chan uint, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.IssueReceipt(context.Background(), models.SourceTypeAppointment, 7)
			if err == nil {
				ids <- r.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.Len(t, repo.all(), 1)
	assert.Equal(t, 1, pub.count(RoutingKeyReceiptIssued))
}

func TestCancelledReceiptNumberIsNotReused(t *testing.T) {
	svc, repo, _ := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1, ReceiptNumbering: models.ReceiptNumbering{Prefix: "R", Template: "{PREFIX}{NUMBER}", PadLength: 3}})
	repo.addSource(paidAppointment(1, 1))

	first, err := svc.IssueReceipt(context.Background(), models.SourceTypeAppointment, 1)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), first.ID, " customer asked ")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer asked", cancelled.CancelReason)

	_, err = svc.Cancel(context.Background(), first.ID, "again")
	assert.ErrorIs(t, err, ErrReceiptNotActive)

	second, err := svc.IssueReceipt(context.Background(), models.SourceTypeAppointment, 1)
	require.NoError(t, err)
	assert.Equal(t, "R001", first.ReceiptNumber)
	assert.Equal(t, "R002", second.ReceiptNumber)
}

func TestReconcileIssuesMissingReceipts(t *testing.T) {
	svc, repo, _ := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1, Name: "Salon"})
	repo.addSource(paidAppointment(1, 1))
	unpaid := paidAppointment(2, 1)
	unpaid.FullyPaid = false
	repo.addSource(unpaid)

	ledger := &memLedger{receipts: repo}
	one, two := uint(1), uint(2)
	seedAttempt(t, ledger, models.PaymentAttempt{BusinessID: 1, Reference: "a", TransactionID: "t1", Status: models.PaymentStatusCompleted, SourceType: models.SourceTypeAppointment, SourceID: &one})
	seedAttempt(t, ledger, models.PaymentAttempt{BusinessID: 1, Reference: "b", TransactionID: "t2", Status: models.PaymentStatusCompleted, SourceType: models.SourceTypeAppointment, SourceID: &two})
	seedAttempt(t, ledger, models.PaymentAttempt{BusinessID: 1, Reference: "c", TransactionID: "t3", Status: models.PaymentStatusDeclined, SourceType: models.SourceTypeAppointment, SourceID: &one})

	issued, failed, err := svc.Reconcile(context.Background(), ledger, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, issued)
	assert.Equal(t, 0, failed)

	// The unpaid source is not picked up until it is paid
	issued, failed, err = svc.Reconcile(context.Background(), ledger, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, issued)
	assert.Equal(t, 0, failed)

	repo.addSource(paidAppointment(2, 1))
	issued, _, err = svc.Reconcile(context.Background(), ledger, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, issued)
	assert.Len(t, repo.all(), 2)
}

func TestReconcileIsNotStarvedByUnpaidSources(t *testing.T) {
	svc, repo, _ := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1, Name: "Salon"})
	unpaid := paidAppointment(1, 1)
	unpaid.FullyPaid = false
	repo.addSource(unpaid)
	repo.addSource(paidAppointment(2, 1))

	ledger := &memLedger{receipts: repo}
	one, two, missing := uint(1), uint(2), uint(99)
	seedAttempt(t, ledger, models.PaymentAttempt{BusinessID: 1, Reference: "a", TransactionID: "t1", Status: models.PaymentStatusCompleted, SourceType: models.SourceTypeAppointment, SourceID: &one})
	seedAttempt(t, ledger, models.PaymentAttempt{BusinessID: 1, Reference: "m", TransactionID: "t9", Status: models.PaymentStatusCompleted, SourceType: models.SourceTypeSale, SourceID: &missing})
	seedAttempt(t, ledger, models.PaymentAttempt{BusinessID: 1, Reference: "b", TransactionID: "t2", Status: models.PaymentStatusCompleted, SourceType: models.SourceTypeAppointment, SourceID: &two})

	issued, failed, err := svc.Reconcile(context.Background(), ledger, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, issued)
	assert.Equal(t, 0, failed)

	receipts := repo.all()
	require.Len(t, receipts, 1)
	assert.Equal(t, uint(2), receipts[0].SourceID)
}

func TestReconcileDoesNotReissueCancelledReceipt(t *testing.T) {
	svc, repo, _ := newTestReceiptService()
	repo.addBusiness(models.Business{ID: 1, Name: "Salon"})
	repo.addSource(paidAppointment(1, 1))

	ledger := &memLedger{receipts: repo}
	one := uint(1)
	seedAttempt(t, ledger, models.PaymentAttempt{BusinessID: 1, Reference: "a", TransactionID: "t1", Status: models.PaymentStatusCompleted, SourceType: models.SourceTypeAppointment, SourceID: &one})

	issued, _, err := svc.Reconcile(context.Background(), ledger, 50)
	require.NoError(t, err)
	require.Equal(t, 1, issued)

	first := repo.all()[0]
	_, err = svc.Cancel(context.Background(), first.ID, "refunded")
	require.NoError(t, err)

	issued, failed, err := svc.Reconcile(context.Background(), ledger, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, issued)
	assert.Equal(t, 0, failed)

	receipts := repo.all()
	require.Len(t, receipts, 1)
	assert.Equal(t, models.ReceiptStatusCancelled, receipts[0].Status)

	// Reissue stays available on explicit request
	again, err := svc.IssueReceipt(context.Background(), models.SourceTypeAppointment, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first.ReceiptNumber, again.ReceiptNumber)
}

func TestSourceBreakdowns(t *testing.T) {
	appt := sourceFromAppointment(models.Appointment{
		ID: 1, BusinessID: 2, Price: 100000, DiscountAmount: 10000, TipAmount: 5000,
		TaxRate: decimal.RequireFromString("19"), PaymentStatus: models.SourcePaymentStatusPaid,
		CustomerName: "Ana", StaffName: "Laura", ServiceName: "Color",
	}, "COP")
	assert.Equal(t, int64(17100), appt.Tax)
	assert.Equal(t, int64(112100), appt.Total)
	assert.True(t, appt.FullyPaid)
	assert.Equal(t, "Laura", appt.PerformerName)

	sale := sourceFromSale(models.Sale{ID: 3, Subtotal: 10000, DiscountAmount: 1000, TaxRate: decimal.RequireFromString("19"), PaidAmount: 5000}, "COP")
	assert.Equal(t, int64(1710), sale.Tax)
	assert.Equal(t, int64(10710), sale.Total)
	assert.False(t, sale.FullyPaid)

	sub := sourceFromSubscriptionCharge(models.PaymentAttempt{ID: 9, BusinessID: 2, AmountInCents: 49900, Currency: "COP", Status: models.PaymentStatusCompleted}, "Salon")
	assert.Equal(t, uint(9), sub.ID)
	assert.Equal(t, int64(49900), sub.Total)
	assert.Equal(t, "Salon", sub.PerformerName)
	assert.True(t, sub.FullyPaid)
}
