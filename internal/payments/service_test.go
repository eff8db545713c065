package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/internal/ledger"
	"github.com/humbertoham/wavestudio-sub000/pkg/db"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/dbtest"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/metrics"
)

const testSecret = "whsec-test"

type fixture struct {
	conn   *gorm.DB
	svc    Service
	ledger ledger.Service
}

func newFixture(t *testing.T, guard deliveryGuard) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	client := db.NewFromConn(conn, nil)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), client)
	require.NoError(t, err)

	params := ServiceParams{
		Repo:             NewRepository(conn),
		DB:               client,
		Ledger:           ledgerSvc,
		Verifier:         NewSignatureVerifier(testSecret, 0),
		Metrics:          metrics.NewWebhookMetrics(prometheus.NewRegistry()),
		RequireSignature: true,
	}
	if guard != nil {
		params.Guard = guard
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &fixture{conn: conn, svc: svc, ledger: ledgerSvc}
}

type notice struct {
	ProviderID   string
	Status       string
	Reference    string
	PreferenceID string
	Amount       string
	Currency     string
	Email        string
}

func body(t *testing.T, deliveryID string, n notice) []byte {
	t.Helper()
	data := map[string]any{
		"id":     n.ProviderID,
		"status": n.Status,
		"payer":  map[string]any{"email": n.Email},
	}
	if n.Reference != "" {
		data["external_reference"] = n.Reference
	}
	if n.PreferenceID != "" {
		data["preference_id"] = n.PreferenceID
	}
	if n.Amount != "" {
		data["transaction_amount"] = json.Number(n.Amount)
	}
	if n.Currency != "" {
		data["currency_id"] = n.Currency
	}
	raw, err := json.Marshal(map[string]any{
		"id":     deliveryID,
		"type":   "payment",
		"action": "payment.updated",
		"data":   data,
	})
	require.NoError(t, err)
	return raw
}

func signed(raw []byte, dataID string) Notification {
	requestID := uuid.NewString()
	return Notification{
		Signature: Sign(testSecret, dataID, requestID, time.Now()),
		RequestID: requestID,
		DataID:    dataID,
		Body:      raw,
	}
}

func (f *fixture) deliver(t *testing.T, n notice) *NotificationResult {
	t.Helper()
	res, err := f.svc.HandleNotification(context.Background(), signed(body(t, uuid.NewString(), n), n.ProviderID))
	require.NoError(t, err)
	return res
}

func (f *fixture) checkout(t *testing.T, classes int, price string) (*models.User, *CheckoutResult) {
	t.Helper()
	user := dbtest.CreateUser(t, f.conn, enums.AffiliationNone)
	pack := dbtest.CreatePack(t, f.conn, classes, 30, price)
	res, err := f.svc.CreateCheckout(context.Background(), CheckoutInput{UserID: user.ID, PackID: pack.ID})
	require.NoError(t, err)
	return user, res
}

func (f *fixture) payment(t *testing.T, id uuid.UUID) models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, f.conn.First(&p, "id = ?", id).Error)
	return p
}

func (f *fixture) webhookLog(t *testing.T, id uuid.UUID) models.WebhookLog {
	t.Helper()
	var l models.WebhookLog
	require.NoError(t, f.conn.First(&l, "id = ?", id).Error)
	return l
}

func (f *fixture) purchases(t *testing.T, paymentID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.PackPurchase{}).Where("payment_id = ?", paymentID).Count(&n).Error)
	return n
}

func (f *fixture) linkStatus(t *testing.T, paymentID uuid.UUID) enums.CheckoutLinkStatus {
	t.Helper()
	var link models.CheckoutLink
	require.NoError(t, f.conn.First(&link, "payment_id = ?", paymentID).Error)
	return link.Status
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	return b
}

func TestCreateCheckoutWritesPendingPaymentAndLink(t *testing.T) {
	f := newFixture(t, nil)
	user, res := f.checkout(t, 8, "450.00")

	assert.Equal(t, enums.PaymentStatusPending, res.Payment.Status)
	assert.True(t, decimal.RequireFromString("450.00").Equal(res.Payment.Amount))
	assert.Equal(t, DefaultProvider, res.Payment.Provider)
	assert.Equal(t, res.ExternalReference, res.Payment.ExternalReference)
	assert.Equal(t, res.ExternalReference, res.Link.Token)
	assert.Equal(t, enums.CheckoutLinkStatusPending, res.Link.Status)

	token, err := ParseCorrelationToken(res.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, user.ID, token.UserID)
	assert.Equal(t, res.Pack.ID, token.PackID)
	assert.Equal(t, res.Payment.ID, token.PaymentID)

	stored := f.payment(t, res.Payment.ID)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, user.ID, *stored.UserID)
}

func TestCreateCheckoutRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := dbtest.CreateUser(t, f.conn, enums.AffiliationNone)

	inactive := dbtest.CreatePack(t, f.conn, 4, 30, "100.00")
	require.NoError(t, f.conn.Model(&models.Pack{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)
	_, err := f.svc.CreateCheckout(ctx, CheckoutInput{UserID: user.ID, PackID: inactive.ID})
	assert.Equal(t, pkgerrors.CodePackUnavailable, pkgerrors.CodeOf(err))

	trial := dbtest.CreatePack(t, f.conn, 1, 7, "0.00")
	require.NoError(t, f.conn.Model(&models.Pack{}).Where("id = ?", trial.ID).Update("once_per_user", true).Error)
	_, err = f.svc.CreateCheckout(ctx, CheckoutInput{UserID: user.ID, PackID: trial.ID})
	require.NoError(t, err)
	dbtest.GrantPurchase(t, f.conn, user.ID, trial, dbtest.Now().Add(7*24*time.Hour))
	_, err = f.svc.CreateCheckout(ctx, CheckoutInput{UserID: user.ID, PackID: trial.ID})
	assert.Equal(t, pkgerrors.CodePackLimitReached, pkgerrors.CodeOf(err))

	_, err = f.svc.CreateCheckout(ctx, CheckoutInput{UserID: user.ID, PackID: uuid.New()})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	_, err = f.svc.CreateCheckout(ctx, CheckoutInput{UserID: uuid.New(), PackID: trial.ID})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	_, err = f.svc.CreateCheckout(ctx, CheckoutInput{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestDuplicateApprovedDeliveryCreditsOnce(t *testing.T) {
	f := newFixture(t, nil)
	user, co := f.checkout(t, 8, "450.00")
	n := notice{ProviderID: "98765", Status: "approved", Reference: co.ExternalReference, Amount: "450.00", Currency: "MXN", Email: "payer@studio.test"}

	first := f.deliver(t, n)
	assert.Equal(t, OutcomeCredited, first.Outcome)
	require.NotNil(t, first.PurchaseID)

	second := f.deliver(t, n)
	require.Equal(t, string(pkgerrors.CodeAlreadyCredited), second.Outcome)
	assert.True(t, second.Processed())
	require.NotNil(t, second.PurchaseID)
	assert.Equal(t, *first.PurchaseID, *second.PurchaseID)

	assert.EqualValues(t, 1, f.purchases(t, co.Payment.ID))
	assert.EqualValues(t, 1, dbtest.CountLedger(t, f.conn, "user_id = ? AND reason = ?", user.ID, enums.LedgerReasonPurchaseCredit))
	assert.Equal(t, 8, f.balance(t, user.ID))

	p := f.payment(t, co.Payment.ID)
	assert.Equal(t, enums.PaymentStatusApproved, p.Status)
	require.NotNil(t, p.ProviderPaymentID)
	assert.Equal(t, "98765", *p.ProviderPaymentID)
	require.NotNil(t, p.PayerEmail)
	assert.Equal(t, "payer@studio.test", *p.PayerEmail)
	assert.True(t, json.Valid(p.RawPayload), "raw payload must read back as json")
	assert.Contains(t, string(p.RawPayload), "payer@studio.test")
	assert.Equal(t, enums.CheckoutLinkStatusCompleted, f.linkStatus(t, co.Payment.ID))

	var purchase models.PackPurchase
	require.NoError(t, f.conn.First(&purchase, "id = ?", *first.PurchaseID).Error)
	assert.Equal(t, 8, purchase.ClassesLeft)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), purchase.ExpiresAt, time.Minute)

	for _, id := range []uuid.UUID{first.LogID, second.LogID} {
		l := f.webhookLog(t, id)
		assert.True(t, l.SignatureValid)
		assert.True(t, l.ProcessedOK)
		assert.NotNil(t, l.ProcessedAt)
	}
}

func TestConcurrentApprovedDeliveriesCreditOnce(t *testing.T) {
	f := newFixture(t, nil)
	user, co := f.checkout(t, 5, "300.00")
	n := notice{ProviderID: "55501", Status: "approved", Reference: co.ExternalReference, Amount: "300.00"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.HandleNotification(context.Background(), signed(body(t, uuid.NewString(), n), n.ProviderID))
			assert.NoError(t, err)
			assert.True(t, res.Processed())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.purchases(t, co.Payment.ID))
	assert.Equal(t, 5, f.balance(t, user.ID))
}

func TestInvalidSignatureIsLoggedAndIgnored(t *testing.T) {
	f := newFixture(t, nil)
	user, co := f.checkout(t, 8, "450.00")
	raw := body(t, "evt-1", notice{ProviderID: "111", Status: "approved", Reference: co.ExternalReference, Amount: "450.00"})

	res, err := f.svc.HandleNotification(context.Background(), Notification{
		Signature: Sign("wrong-secret", "111", "req-1", time.Now()),
		RequestID: "req-1",
		DataID:    "111",
		Body:      raw,
	})
	require.NoError(t, err)
	assert.Equal(t, string(pkgerrors.CodeInvalidSignature), res.Outcome)

	l := f.webhookLog(t, res.LogID)
	assert.False(t, l.SignatureValid)
	assert.False(t, l.ProcessedOK)
	require.NotNil(t, l.Outcome)
	assert.Equal(t, string(pkgerrors.CodeInvalidSignature), *l.Outcome)
	assert.JSONEq(t, string(raw), string(l.Payload))

	assert.Equal(t, enums.PaymentStatusPending, f.payment(t, co.Payment.ID).Status)
	assert.Zero(t, f.balance(t, user.ID))

	_, err = f.svc.Replay(context.Background(), res.LogID)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
}

func TestUnknownPaymentIsRecorded(t *testing.T) {
	f := newFixture(t, nil)
	res := f.deliver(t, notice{ProviderID: "404", Status: "approved", Reference: "nope", Amount: "10.00"})
	assert.Equal(t, string(pkgerrors.CodeLocalPaymentNotFound), res.Outcome)
	assert.False(t, res.Processed())
	assert.Nil(t, res.PaymentID)
	assert.False(t, f.webhookLog(t, res.LogID).ProcessedOK)
}

func TestMalformedBodyIsStillLogged(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.HandleNotification(context.Background(), signed([]byte("not json"), ""))
	require.NoError(t, err)
	assert.Equal(t, string(pkgerrors.CodeValidation), res.Outcome)

	l := f.webhookLog(t, res.LogID)
	assert.JSONEq(t, `{"raw":"not json"}`, string(l.Payload))
	assert.True(t, l.SignatureValid)
}

func TestUnreadableBodyIsLoggedWithMarker(t *testing.T) {
	f := newFixture(t, nil)
	user, co := f.checkout(t, 8, "450.00")
	partial := []byte(strings.Repeat("x", 4<<10))

	res, err := f.svc.HandleNotification(context.Background(), Notification{
		RequestID: "req-big",
		Body:      partial,
		ReadErr:   fmt.Errorf("http: request body too large"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnreadableBody, res.Outcome)
	assert.False(t, res.Processed())

	l := f.webhookLog(t, res.LogID)
	assert.False(t, l.ProcessedOK)
	assert.Equal(t, "req-big", l.DeliveryID)
	require.NotNil(t, l.Outcome)
	assert.Equal(t, OutcomeUnreadableBody, *l.Outcome)
	require.NotNil(t, l.Error)
	assert.Contains(t, *l.Error, "too large")

	var marker struct {
		Unreadable bool   `json:"unreadable"`
		BytesRead  int    `json:"bytes_read"`
		Prefix     string `json:"prefix"`
	}
	require.NoError(t, json.Unmarshal(l.Payload, &marker))
	assert.True(t, marker.Unreadable)
	assert.Equal(t, len(partial), marker.BytesRead)
	assert.Len(t, marker.Prefix, unreadablePrefixBytes)

	assert.Equal(t, enums.PaymentStatusPending, f.payment(t, co.Payment.ID).Status)
	assert.Zero(t, f.balance(t, user.ID))
}

func TestRejectedPaymentNeverCredits(t *testing.T) {
	f := newFixture(t, nil)
	user, co := f.checkout(t, 8, "450.00")

	res := f.deliver(t, notice{ProviderID: "222", Status: "rejected", Reference: co.ExternalReference, Amount: "450.00"})
	assert.Equal(t, OutcomeStatusUpdated, res.Outcome)
	assert.Equal(t, enums.PaymentStatusRejected, f.payment(t, co.Payment.ID).Status)
	assert.Equal(t, enums.CheckoutLinkStatusCanceled, f.linkStatus(t, co.Payment.ID))
	assert.EqualValues(t, 0, f.purchases(t, co.Payment.ID))
	assert.Zero(t, f.balance(t, user.ID))
}

func TestPendingStatusIsRecordedWithoutTransition(t *testing.T) {
	f := newFixture(t, nil)
	_, co := f.checkout(t, 8, "450.00")

	res := f.deliver(t, notice{ProviderID: "333", Status: "in_process", Reference: co.ExternalReference})
	assert.Equal(t, OutcomeRecorded, res.Outcome)
	p := f.payment(t, co.Payment.ID)
	assert.Equal(t, enums.PaymentStatusPending, p.Status)
	require.NotNil(t, p.ProviderPaymentID)
	assert.Equal(t, "333", *p.ProviderPaymentID)
}

func TestLaterTerminalStatusKeepsCredit(t *testing.T) {
	f := newFixture(t, nil)
	user, co := f.checkout(t, 4, "200.00")

	f.deliver(t, notice{ProviderID: "444", Status: "approved", Reference: co.ExternalReference, Amount: "200.00"})
	res := f.deliver(t, notice{ProviderID: "444", Status: "refunded"})
	assert.Equal(t, string(pkgerrors.CodeAlreadyCredited), res.Outcome)

	assert.Equal(t, enums.PaymentStatusApproved, f.payment(t, co.Payment.ID).Status)
	assert.Equal(t, 4, f.balance(t, user.ID))
}

func TestAmountMismatchRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	user, co := f.checkout(t, 8, "450.00")

	res := f.deliver(t, notice{ProviderID: "555", Status: "approved", Reference: co.ExternalReference, Amount: "449.99"})
	assert.Equal(t, string(pkgerrors.CodeAmountMismatch), res.Outcome)
	assert.Contains(t, res.Error, "lower")

	p := f.payment(t, co.Payment.ID)
	assert.Equal(t, enums.PaymentStatusPending, p.Status)
	assert.Nil(t, p.ProviderPaymentID)
	assert.EqualValues(t, 0, f.purchases(t, co.Payment.ID))
	assert.Zero(t, f.balance(t, user.ID))

	overpaid := f.deliver(t, notice{ProviderID: "555", Status: "approved", Reference: co.ExternalReference, Amount: "500.00"})
	assert.Equal(t, OutcomeCredited, overpaid.Outcome)

	_, other := f.checkout(t, 2, "90.00")
	wrongCurrency := f.deliver(t, notice{ProviderID: "556", Status: "approved", Reference: other.ExternalReference, Amount: "90.00", Currency: "USD"})
	assert.Equal(t, string(pkgerrors.CodeAmountMismatch), wrongCurrency.Outcome)
}

func TestReplayAfterPreferenceAttached(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user, co := f.checkout(t, 6, "350.00")

	// the provider only echoes the preference id here
	n := notice{ProviderID: "666", Status: "approved", PreferenceID: "pref-123", Amount: "350.00"}
	first := f.deliver(t, n)
	assert.Equal(t, string(pkgerrors.CodeLocalPaymentNotFound), first.Outcome)

	_, err := f.svc.AttachPreference(ctx, co.Payment.ID, "pref-123")
	require.NoError(t, err)

	replayed, err := f.svc.Replay(ctx, first.LogID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, replayed.Outcome)
	assert.Equal(t, first.LogID, replayed.LogID)
	assert.Equal(t, 6, f.balance(t, user.ID))

	l := f.webhookLog(t, first.LogID)
	assert.True(t, l.ProcessedOK)
	assert.Nil(t, l.Error)

	again, err := f.svc.Replay(ctx, first.LogID)
	require.NoError(t, err)
	assert.Equal(t, string(pkgerrors.CodeAlreadyCredited), again.Outcome)
	assert.Equal(t, 6, f.balance(t, user.ID))

	_, err = f.svc.Replay(ctx, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestAttachPreferenceValidation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.AttachPreference(context.Background(), uuid.New(), "pref")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	_, err = f.svc.AttachPreference(context.Background(), uuid.New(), " ")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

// orphanPayment inserts a payment that carries no user, as legacy checkouts did.
func orphanPayment(t *testing.T, f *fixture, classes int, price, reference string) (*models.Pack, *models.Payment) {
	t.Helper()
	pack := dbtest.CreatePack(t, f.conn, classes, 30, price)
	payment := &models.Payment{
		Provider:          DefaultProvider,
		Status:            enums.PaymentStatusPending,
		Amount:            decimal.RequireFromString(price),
		Currency:          "MXN",
		PackID:            pack.ID,
		ExternalReference: reference,
	}
	require.NoError(t, f.conn.Create(payment).Error)
	return pack, payment
}

func TestBeneficiaryFallbacks(t *testing.T) {
	t.Run("token user", func(t *testing.T) {
		f := newFixture(t, nil)
		user := dbtest.CreateUser(t, f.conn, enums.AffiliationNone)
		paymentID := uuid.New()
		ref := NewCorrelationToken(user.ID, uuid.New(), paymentID).String()
		_, payment := orphanPayment(t, f, 3, "120.00", ref)

		res := f.deliver(t, notice{ProviderID: "701", Status: "approved", Reference: ref, Amount: "120.00"})
		assert.Equal(t, OutcomeCredited, res.Outcome)
		assert.Equal(t, 3, f.balance(t, user.ID))
		stored := f.payment(t, payment.ID)
		require.NotNil(t, stored.UserID)
		assert.Equal(t, user.ID, *stored.UserID)
	})

	t.Run("existing payer email", func(t *testing.T) {
		f := newFixture(t, nil)
		user := dbtest.CreateUser(t, f.conn, enums.AffiliationNone)
		orphanPayment(t, f, 3, "120.00", "legacy-ref-1")

		res := f.deliver(t, notice{ProviderID: "702", Status: "approved", Reference: "legacy-ref-1", Amount: "120.00", Email: strings.ToUpper(user.Email)})
		assert.Equal(t, OutcomeCredited, res.Outcome)
		assert.Equal(t, 3, f.balance(t, user.ID))
	})

	t.Run("new payer email", func(t *testing.T) {
		f := newFixture(t, nil)
		orphanPayment(t, f, 3, "120.00", "legacy-ref-2")

		res := f.deliver(t, notice{ProviderID: "703", Status: "approved", Reference: "legacy-ref-2", Amount: "120.00", Email: "New.Payer@Studio.test"})
		assert.Equal(t, OutcomeCredited, res.Outcome)

		var created models.User
		require.NoError(t, f.conn.First(&created, "email = ?", "new.payer@studio.test").Error)
		assert.Equal(t, enums.RoleUser, created.Role)
		assert.Equal(t, 3, f.balance(t, created.ID))
	})

	t.Run("nobody", func(t *testing.T) {
		f := newFixture(t, nil)
		_, payment := orphanPayment(t, f, 3, "120.00", "legacy-ref-3")

		res := f.deliver(t, notice{ProviderID: "704", Status: "approved", Reference: "legacy-ref-3", Amount: "120.00"})
		assert.Equal(t, string(pkgerrors.CodeNoBeneficiaryUser), res.Outcome)
		assert.Equal(t, enums.PaymentStatusPending, f.payment(t, payment.ID).Status)
	})
}

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]bool{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

func (m *memoryStore) DeliveryKey(provider, deliveryID string) string {
	return fmt.Sprintf("test:%s:%s", provider, deliveryID)
}

func TestDeliveryGuardShortCircuitsRedelivery(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewDeliveryGuard(store, time.Minute, DefaultProvider)
	require.NoError(t, err)
	f := newFixture(t, guard)
	user, co := f.checkout(t, 8, "450.00")

	raw := body(t, "evt-dup", notice{ProviderID: "801", Status: "approved", Reference: co.ExternalReference, Amount: "450.00"})
	first, err := f.svc.HandleNotification(context.Background(), signed(raw, "801"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, first.Outcome)

	second, err := f.svc.HandleNotification(context.Background(), signed(raw, "801"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateDelivery, second.Outcome)
	assert.Equal(t, 8, f.balance(t, user.ID))
}

func TestDeliveryGuardReleasedOnFailure(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewDeliveryGuard(store, time.Minute, DefaultProvider)
	require.NoError(t, err)
	f := newFixture(t, guard)

	raw := body(t, "evt-missing", notice{ProviderID: "802", Status: "approved", Reference: "unknown", Amount: "1.00"})
	res, err := f.svc.HandleNotification(context.Background(), signed(raw, "802"))
	require.NoError(t, err)
	assert.Equal(t, string(pkgerrors.CodeLocalPaymentNotFound), res.Outcome)
	assert.Empty(t, store.keys)

	again, err := f.svc.HandleNotification(context.Background(), signed(raw, "802"))
	require.NoError(t, err)
	assert.Equal(t, string(pkgerrors.CodeLocalPaymentNotFound), again.Outcome)
}

func TestNewDeliveryGuardValidation(t *testing.T) {
	_, err := NewDeliveryGuard(nil, time.Minute, "p")
	assert.Error(t, err)
	_, err = NewDeliveryGuard(newMemoryStore(), -time.Second, "p")
	assert.Error(t, err)
	_, err = NewDeliveryGuard(newMemoryStore(), time.Minute, "")
	assert.Error(t, err)
}

func TestNewServiceRequiresVerifierWhenSigning(t *testing.T) {
	conn := dbtest.Open(t)
	client := db.NewFromConn(conn, nil)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), client)
	require.NoError(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(conn), DB: client, Ledger: ledgerSvc, RequireSignature: true})
	assert.Error(t, err)
}
