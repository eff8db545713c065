package bookings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/internal/capacity"
	"github.com/humbertoham/wavestudio-sub000/internal/ledger"
	"github.com/humbertoham/wavestudio-sub000/pkg/db"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/dbtest"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/metrics"
)

type fixture struct {
	conn     *gorm.DB
	svc      Service
	ledger   ledger.Service
	capacity capacity.Service
}

func newFixture(t *testing.T, wrap func(capacity.Service) capacity.Service) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	client := db.NewFromConn(conn, nil)

	capSvc, err := capacity.NewService(capacity.NewRepository(conn), client)
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), client)
	require.NoError(t, err)

	engineCap := capSvc
	if wrap != nil {
		engineCap = wrap(capSvc)
	}
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		DB:       client,
		Capacity: engineCap,
		Ledger:   ledgerSvc,
		Metrics:  metrics.NewBookingMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return &fixture{conn: conn, svc: svc, ledger: ledgerSvc, capacity: capSvc}
}

// userWithCredits creates a user holding n credits in a purchase valid for 30 days.
func (f *fixture) userWithCredits(t *testing.T, n int) *models.User {
	t.Helper()
	user := dbtest.CreateUser(t, f.conn, enums.AffiliationNone)
	pack := dbtest.CreatePack(t, f.conn, n, 30, "100.00")
	dbtest.GrantPurchase(t, f.conn, user.ID, pack, dbtest.Now().Add(30*24*time.Hour))
	return user
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	return b
}

func (f *fixture) available(t *testing.T, classID uuid.UUID) int {
	t.Helper()
	a, err := f.capacity.Available(context.Background(), classID)
	require.NoError(t, err)
	return a
}

func countBookings(t *testing.T, conn *gorm.DB, classID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.Booking{}).Where("class_id = ?", classID).Count(&n).Error)
	return n
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestBookDebitsCreditsAndReservesSeats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 5)
	class := dbtest.CreateClass(t, f.conn, 10, 2, 48*time.Hour)

	res, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Charged)
	assert.Equal(t, 1, res.Balance)
	assert.Equal(t, 8, res.Available)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, -4, res.Entries[0].Delta)
	assert.Equal(t, enums.LedgerReasonBookingDebit, res.Entries[0].Reason)
	require.NotNil(t, res.Booking.PackPurchaseID)
	assert.Equal(t, *res.Entries[0].PackPurchaseID, *res.Booking.PackPurchaseID)

	assert.Equal(t, 1, f.balance(t, user.ID))
	assert.Equal(t, 8, f.available(t, class.ID))

	var purchase models.PackPurchase
	require.NoError(t, f.conn.First(&purchase, "id = ?", *res.Booking.PackPurchaseID).Error)
	assert.Equal(t, 1, purchase.ClassesLeft)
}

// racingCapacity lets a competing booking commit between the optimistic
// read and the locked transaction.
type racingCapacity struct {
	capacity.Service
	before func()
}

func (r *racingCapacity) Available(ctx context.Context, classID uuid.UUID) (int, error) {
	available, err := r.Service.Available(ctx, classID)
	if hook := r.before; hook != nil {
		r.before = nil
		hook()
	}
	return available, err
}

func TestLastSeatRaceFailsNotEnoughSpots(t *testing.T) {
	race := &racingCapacity{}
	f := newFixture(t, func(inner capacity.Service) capacity.Service {
		race.Service = inner
		return race
	})
	ctx := context.Background()
	userA := f.userWithCredits(t, 3)
	userB := f.userWithCredits(t, 3)
	class := dbtest.CreateClass(t, f.conn, 1, 1, 48*time.Hour)

	race.before = func() {
		_, err := f.svc.Book(ctx, BookInput{UserID: userA.ID, ClassID: class.ID, Quantity: 1})
		require.NoError(t, err)
	}

	_, err := f.svc.Book(ctx, BookInput{UserID: userB.ID, ClassID: class.ID, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotEnoughSpots, pkgerrors.CodeOf(err))
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, 0, details["available"])
	assert.Equal(t, 1, details["requested"])

	assert.Equal(t, 0, f.available(t, class.ID))
	assert.Equal(t, 3, f.balance(t, userB.ID))
	assert.EqualValues(t, 1, countBookings(t, f.conn, class.ID))
}

func TestBookFullClassFailsNotEnoughSpots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.userWithCredits(t, 1)
	b := f.userWithCredits(t, 1)
	class := dbtest.CreateClass(t, f.conn, 1, 1, 48*time.Hour)

	_, err := f.svc.Book(ctx, BookInput{UserID: a.ID, ClassID: class.ID, Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookInput{UserID: b.ID, ClassID: class.ID, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotEnoughSpots, pkgerrors.CodeOf(err))
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, 0, details["available"])
	assert.Equal(t, 1, details["requested"])
	assert.Equal(t, 1, f.balance(t, b.ID))
}

func TestBookMoreSeatsThanLeft(t *testing.T) {
	f := newFixture(t, nil)
	user := f.userWithCredits(t, 10)
	class := dbtest.CreateClass(t, f.conn, 2, 1, 48*time.Hour)

	_, err := f.svc.Book(context.Background(), BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 3})
	assert.Equal(t, pkgerrors.CodeNotEnoughSpots, pkgerrors.CodeOf(err))
	assert.Equal(t, 10, f.balance(t, user.ID))
}

func TestConcurrentBookingsNeverOverbook(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	class := dbtest.CreateClass(t, f.conn, 3, 1, 48*time.Hour)

	const attempts = 8
	users := make([]*models.User, attempts)
	for i := range users {
		users[i] = f.userWithCredits(t, 2)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		codes   []pkgerrors.Code
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Book(ctx, BookInput{UserID: userID, ClassID: class.ID, Quantity: 1})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			codes = append(codes, pkgerrors.CodeOf(err))
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	assert.Len(t, codes, attempts-3)
	for _, code := range codes {
		assert.Equal(t, pkgerrors.CodeNotEnoughSpots, code)
	}
	used, err := f.capacity.UsedSpots(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, used)

	for _, u := range users {
		assert.GreaterOrEqual(t, f.balance(t, u.ID), 0)
	}
}

func TestBookInsufficientTokens(t *testing.T) {
	f := newFixture(t, nil)
	user := f.userWithCredits(t, 1)
	class := dbtest.CreateClass(t, f.conn, 5, 2, 48*time.Hour)

	_, err := f.svc.Book(context.Background(), BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInsufficientTokens, pkgerrors.CodeOf(err))
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Equal(t, 2, details["needed"])
	assert.Equal(t, 1, details["tokens"])

	assert.EqualValues(t, 0, countBookings(t, f.conn, class.ID))
	assert.Equal(t, 1, f.balance(t, user.ID))
}

func TestBookIgnoresExpiredCredits(t *testing.T) {
	f := newFixture(t, nil)
	user := dbtest.CreateUser(t, f.conn, enums.AffiliationNone)
	pack := dbtest.CreatePack(t, f.conn, 10, 30, "100.00")
	dbtest.GrantPurchase(t, f.conn, user.ID, pack, dbtest.Now().Add(-time.Minute))
	class := dbtest.CreateClass(t, f.conn, 5, 1, 48*time.Hour)

	_, err := f.svc.Book(context.Background(), BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeInsufficientTokens, pkgerrors.CodeOf(err))
}

func TestBookPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 5)

	past := dbtest.CreateClass(t, f.conn, 5, 1, -time.Hour)
	canceled := dbtest.CreateClass(t, f.conn, 5, 1, 48*time.Hour)
	require.NoError(t, f.conn.Model(&models.Class{}).Where("id = ?", canceled.ID).Update("is_canceled", true).Error)
	open := dbtest.CreateClass(t, f.conn, 5, 1, 48*time.Hour)

	cases := []struct {
		name string
		in   BookInput
		code pkgerrors.Code
	}{
		{"zero quantity", BookInput{UserID: user.ID, ClassID: open.ID, Quantity: 0}, pkgerrors.CodeValidation},
		{"missing class", BookInput{UserID: user.ID, ClassID: uuid.New(), Quantity: 1}, pkgerrors.CodeNotFound},
		{"class in past", BookInput{UserID: user.ID, ClassID: past.ID, Quantity: 1}, pkgerrors.CodeClassInPast},
		{"class canceled", BookInput{UserID: user.ID, ClassID: canceled.ID, Quantity: 1}, pkgerrors.CodeClassCanceled},
		{"unknown user", BookInput{UserID: uuid.New(), ClassID: open.ID, Quantity: 1}, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.code, pkgerrors.CodeOf(err))
		})
	}
	assert.Equal(t, 5, f.balance(t, user.ID))
}

func TestBookTwiceIsAlreadyEnrolled(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 5)
	class := dbtest.CreateClass(t, f.conn, 5, 1, 48*time.Hour)

	_, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeAlreadyEnrolled, pkgerrors.CodeOf(err))
	assert.Equal(t, 4, f.balance(t, user.ID))
}

func TestCancelInsideWindowClosedLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 3)
	class := dbtest.CreateClass(t, f.conn, 5, 1, 100*time.Minute)

	res, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
	require.NoError(t, err)
	before := f.balance(t, user.ID)

	_, err = f.svc.Cancel(ctx, CancelInput{BookingID: res.Booking.ID, ByUserID: &user.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeWindowClosed, pkgerrors.CodeOf(err))

	assert.Equal(t, before, f.balance(t, user.ID))
	var reloaded models.Booking
	require.NoError(t, f.conn.First(&reloaded, "id = ?", res.Booking.ID).Error)
	assert.Equal(t, enums.BookingStatusActive, reloaded.Status)
}

func TestCancelHonoursClassWindow(t *testing.T) {
	cases := []struct {
		name   string
		window *int
		in     time.Duration
		want   pkgerrors.Code
	}{
		{"zero window cancels until start", intPtr(0), 30 * time.Minute, ""},
		{"short window open", intPtr(15), 30 * time.Minute, ""},
		{"short window closed", intPtr(60), 30 * time.Minute, pkgerrors.CodeWindowClosed},
		{"null uses studio default", nil, 100 * time.Minute, pkgerrors.CodeWindowClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			user := f.userWithCredits(t, 2)
			class := dbtest.CreateClass(t, f.conn, 5, 1, tc.in)
			if tc.window != nil {
				require.NoError(t, f.conn.Model(&models.Class{}).Where("id = ?", class.ID).
					Update("cancel_before_min", *tc.window).Error)
			}

			res, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
			require.NoError(t, err)

			_, err = f.svc.Cancel(ctx, CancelInput{BookingID: res.Booking.ID, ByUserID: &user.ID})
			if tc.want != "" {
				assert.Equal(t, tc.want, pkgerrors.CodeOf(err))
				assert.Equal(t, 1, f.balance(t, user.ID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, f.balance(t, user.ID))
		})
	}
}

func intPtr(v int) *int { return &v }

func TestBookThenCancelRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 6)
	class := dbtest.CreateClass(t, f.conn, 4, 2, 72*time.Hour)

	balanceBefore := f.balance(t, user.ID)
	availableBefore := f.available(t, class.ID)

	res, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 2})
	require.NoError(t, err)

	cancel, err := f.svc.Cancel(ctx, CancelInput{BookingID: res.Booking.ID, ByUserID: &user.ID})
	require.NoError(t, err)
	assert.False(t, cancel.AlreadyCanceled)
	assert.Equal(t, 4, cancel.Refunded)
	assert.True(t, cancel.Booking.RefundToken)
	require.NotNil(t, cancel.Booking.CanceledAt)

	assert.Equal(t, balanceBefore, f.balance(t, user.ID))
	assert.Equal(t, availableBefore, f.available(t, class.ID))

	var purchase models.PackPurchase
	require.NoError(t, f.conn.First(&purchase, "id = ?", *res.Booking.PackPurchaseID).Error)
	assert.Equal(t, 6, purchase.ClassesLeft)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 3)
	class := dbtest.CreateClass(t, f.conn, 5, 1, 72*time.Hour)

	res, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Cancel(ctx, CancelInput{BookingID: res.Booking.ID})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	again, err := f.svc.Cancel(ctx, CancelInput{BookingID: res.Booking.ID})
	require.NoError(t, err)
	assert.True(t, again.AlreadyCanceled)
	assert.Empty(t, again.Refunds)

	assert.EqualValues(t, 1, dbtest.CountLedger(t, f.conn, "booking_id = ? AND reason = ?", res.Booking.ID, enums.LedgerReasonCancelRefund))
	assert.Equal(t, 3, f.balance(t, user.ID))
}

func TestCancelOwnershipAndLookup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	owner := f.userWithCredits(t, 2)
	other := f.userWithCredits(t, 2)
	class := dbtest.CreateClass(t, f.conn, 5, 1, 72*time.Hour)

	res, err := f.svc.Book(ctx, BookInput{UserID: owner.ID, ClassID: class.ID, Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, CancelInput{BookingID: res.Booking.ID, ByUserID: &other.ID})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = f.svc.Cancel(ctx, CancelInput{BookingID: uuid.New()})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestAdminRemoveBypassesWindowAndRefunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 2)
	class := dbtest.CreateClass(t, f.conn, 5, 1, 30*time.Minute)

	res, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
	require.NoError(t, err)

	removed, err := f.svc.AdminRemove(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed.Refunded)
	assert.Equal(t, 2, f.balance(t, user.ID))
	assert.Equal(t, 5, f.available(t, class.ID))

	again, err := f.svc.AdminRemove(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCanceled)
}

func TestCancelClassRefundsEveryActiveBooking(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	class := dbtest.CreateClass(t, f.conn, 5, 1, 2*time.Hour)
	a := f.userWithCredits(t, 3)
	b := f.userWithCredits(t, 3)

	_, err := f.svc.Book(ctx, BookInput{UserID: a.ID, ClassID: class.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookInput{UserID: b.ID, ClassID: class.ID, Quantity: 1})
	require.NoError(t, err)

	res, err := f.svc.CancelClass(ctx, class.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 3, res.Refunded)
	assert.Equal(t, 3, f.balance(t, a.ID))
	assert.Equal(t, 3, f.balance(t, b.ID))

	_, err = f.svc.Book(ctx, BookInput{UserID: a.ID, ClassID: class.ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeClassCanceled, pkgerrors.CodeOf(err))

	again, err := f.svc.CancelClass(ctx, class.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCanceled)
	assert.Zero(t, again.Removed)
}

func TestMarkAttendance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 2)
	class := dbtest.CreateClass(t, f.conn, 5, 1, 72*time.Hour)

	res, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: class.ID, Quantity: 1})
	require.NoError(t, err)

	booking, err := f.svc.MarkAttendance(ctx, res.Booking.ID, true)
	require.NoError(t, err)
	assert.True(t, booking.Attended)

	_, err = f.svc.Cancel(ctx, CancelInput{BookingID: res.Booking.ID})
	require.NoError(t, err)
	_, err = f.svc.MarkAttendance(ctx, res.Booking.ID, false)
	assert.Equal(t, pkgerrors.CodeBookingNotActive, pkgerrors.CodeOf(err))

	_, err = f.svc.MarkAttendance(ctx, uuid.New(), true)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestBalanceNeverNegativeAcrossBookCancelSequence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.userWithCredits(t, 3)
	classes := []*models.Class{
		dbtest.CreateClass(t, f.conn, 5, 2, 72*time.Hour),
		dbtest.CreateClass(t, f.conn, 5, 2, 96*time.Hour),
		dbtest.CreateClass(t, f.conn, 5, 1, 120*time.Hour),
	}

	first, err := f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: classes[0].ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: classes[1].ID, Quantity: 1})
	assert.Equal(t, pkgerrors.CodeInsufficientTokens, pkgerrors.CodeOf(err))
	_, err = f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: classes[2].ID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, f.balance(t, user.ID))

	_, err = f.svc.Cancel(ctx, CancelInput{BookingID: first.Booking.ID})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookInput{UserID: user.ID, ClassID: classes[1].ID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, f.balance(t, user.ID))
}
