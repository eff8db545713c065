package bookings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/internal/capacity"
	"github.com/humbertoham/wavestudio-sub000/internal/ledger"
	"github.com/humbertoham/wavestudio-sub000/pkg/db"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
	"github.com/humbertoham/wavestudio-sub000/pkg/metrics"
)

const (
	opBook        = "book"
	opCancel      = "cancel"
	opAdminRemove = "admin_remove"
	opCancelClass = "cancel_class"
	outcomeOK     = "ok"
	outcomeNoop   = "already_canceled"
	defaultWindow = models.DefaultCancelBeforeMin * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithRetryTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the booking and cancellation engine.
type Service interface {
	Book(ctx context.Context, input BookInput) (*BookResult, error)
	Cancel(ctx context.Context, input CancelInput) (*CancelResult, error)
	AdminRemove(ctx context.Context, bookingID uuid.UUID) (*CancelResult, error)
	CancelClass(ctx context.Context, classID uuid.UUID) (*ClassCancelResult, error)
	MarkAttendance(ctx context.Context, bookingID uuid.UUID, attended bool) (*models.Booking, error)
}

// BookInput requests Quantity seats for UserID.
type BookInput struct {
	UserID   uuid.UUID
	ClassID  uuid.UUID
	Quantity int
}

// BookResult is a confirmed booking with the debit rows it wrote.
type BookResult struct {
	Booking   *models.Booking      `json:"booking"`
	Entries   []models.TokenLedger `json:"entries"`
	Charged   int                  `json:"charged"`
	Balance   int                  `json:"balance"`
	Available int                  `json:"available"`
}

// CancelInput cancels BookingID. When ByUserID is set the caller must own it.
type CancelInput struct {
	BookingID uuid.UUID
	ByUserID  *uuid.UUID
}

// CancelResult reports a cancellation. AlreadyCanceled marks an idempotent
// repeat that wrote nothing.
type CancelResult struct {
	Booking         *models.Booking      `json:"booking"`
	AlreadyCanceled bool                 `json:"already_canceled"`
	Refunds         []models.TokenLedger `json:"refunds"`
	Refunded        int                  `json:"refunded"`
}

// ClassCancelResult summarises a class cancellation.
type ClassCancelResult struct {
	ClassID         uuid.UUID `json:"class_id"`
	AlreadyCanceled bool      `json:"already_canceled"`
	Removed         int       `json:"removed"`
	Refunded        int       `json:"refunded"`
}

// ServiceParams wires the engine.
type ServiceParams struct {
	Repo     Repository
	DB       txRunner
	Capacity capacity.Service
	Ledger   ledger.Service
	Logger   *logger.Logger
	Metrics  *metrics.BookingMetrics
	// CancelWindow applies to classes whose row carries no window.
	CancelWindow time.Duration
	Now          func() time.Time
}

type service struct {
	repo         Repository
	db           txRunner
	capacity     capacity.Service
	ledger       ledger.Service
	logg         *logger.Logger
	metrics      *metrics.BookingMetrics
	cancelWindow time.Duration
	now          func() time.Time
}

// NewService builds the booking engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("bookings repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Capacity == nil {
		return nil, fmt.Errorf("capacity service required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.CancelWindow <= 0 {
		params.CancelWindow = defaultWindow
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:         params.Repo,
		db:           params.DB,
		capacity:     params.Capacity,
		ledger:       params.Ledger,
		logg:         params.Logger,
		metrics:      params.Metrics,
		cancelWindow: params.CancelWindow,
		now:          params.Now,
	}, nil
}

func (s *service) observe(op string, err error) {
	if err != nil {
		s.metrics.Observe(op, string(pkgerrors.CodeOf(err)))
		return
	}
	s.metrics.Observe(op, outcomeOK)
}

// checkBookable rejects canceled or already started classes.
func checkBookable(class *models.Class, now time.Time) error {
	if class.IsCanceled {
		return pkgerrors.New(pkgerrors.CodeClassCanceled, "class has been canceled")
	}
	if !class.Date.After(now) {
		return pkgerrors.New(pkgerrors.CodeClassInPast, "class has already started")
	}
	return nil
}

func notEnoughSpots(available, requested int) error {
	return pkgerrors.New(pkgerrors.CodeNotEnoughSpots, "not enough spots left").
		WithDetails(map[string]any{"available": available, "requested": requested})
}

func (s *service) Book(ctx context.Context, input BookInput) (result *BookResult, err error) {
	defer func() { s.observe(opBook, err) }()

	if input.UserID == uuid.Nil || input.ClassID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and class id are required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"quantity": input.Quantity})
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":  input.UserID.String(),
		"class_id": input.ClassID.String(),
		"quantity": input.Quantity,
	})

	// fast-fail on a plain read; every decision is repeated under lock below
	class, err := s.capacity.FindClass(ctx, input.ClassID)
	if err != nil {
		return nil, err
	}
	if err := checkBookable(class, s.now()); err != nil {
		return nil, err
	}
	available, err := s.capacity.Available(ctx, input.ClassID)
	if err != nil {
		return nil, err
	}
	if available < input.Quantity {
		return nil, notEnoughSpots(available, input.Quantity)
	}

	attempt := 0
	err = s.db.WithRetryTx(ctx, func(tx *gorm.DB) error {
		attempt++
		if attempt > 1 {
			s.metrics.IncRetry()
		}
		var txErr error
		result, txErr = s.bookTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		// the active-booking index is the only unique key this tx can hit
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeAlreadyEnrolled, err, "user already holds an active booking for this class")
		}
		return nil, err
	}

	s.metrics.SeatsReserved(input.Quantity)
	s.logg.Info(s.logg.WithField(ctx, "booking_id", result.Booking.ID.String()), "booking confirmed")
	return result, nil
}

func (s *service) bookTx(ctx context.Context, tx *gorm.DB, input BookInput) (*BookResult, error) {
	repo := s.repo.WithTx(tx)
	capTx := s.capacity.WithTx(tx)
	ledgerTx := s.ledger.WithTx(tx)
	now := s.now()

	class, err := capTx.LockClass(ctx, input.ClassID)
	if err != nil {
		return nil, err
	}
	if _, err := ledgerTx.LockUser(ctx, input.UserID); err != nil {
		return nil, err
	}
	if err := checkBookable(class, now); err != nil {
		return nil, err
	}

	if _, err := repo.FindActive(ctx, input.UserID, input.ClassID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyEnrolled, "user already holds an active booking for this class")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup active booking")
	}

	available, err := capTx.Available(ctx, input.ClassID)
	if err != nil {
		return nil, err
	}
	if available < input.Quantity {
		return nil, notEnoughSpots(available, input.Quantity)
	}

	needed := class.CreditCost * input.Quantity
	balance, err := ledgerTx.Balance(ctx, input.UserID, now)
	if err != nil {
		return nil, err
	}
	if balance < needed {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientTokens, "not enough credits").
			WithDetails(map[string]any{"tokens": balance, "needed": needed})
	}

	userID := input.UserID
	booking := &models.Booking{
		ID:        uuid.New(),
		UserID:    &userID,
		ClassID:   input.ClassID,
		Quantity:  input.Quantity,
		Status:    enums.BookingStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(ctx, booking); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create booking")
	}

	entries, err := ledgerTx.Debit(ctx, ledger.DebitInput{
		UserID:    input.UserID,
		BookingID: booking.ID,
		Amount:    needed,
		AsOf:      now,
	})
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 && entries[0].PackPurchaseID != nil {
		booking.PackPurchaseID = entries[0].PackPurchaseID
		if err := repo.SetFundingPurchase(ctx, booking.ID, booking.PackPurchaseID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record funding purchase")
		}
	}

	return &BookResult{
		Booking:   booking,
		Entries:   entries,
		Charged:   needed,
		Balance:   balance - needed,
		Available: available - input.Quantity,
	}, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (result *CancelResult, err error) {
	defer func() { s.observeCancel(opCancel, result, err) }()

	if input.BookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id is required")
	}
	booking, err := s.findBooking(ctx, input.BookingID)
	if err != nil {
		return nil, err
	}
	if input.ByUserID != nil && !booking.IsOwnedBy(*input.ByUserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "booking belongs to another user")
	}
	if booking.Status == enums.BookingStatusCanceled {
		return &CancelResult{Booking: booking, AlreadyCanceled: true}, nil
	}

	class, err := s.capacity.FindClass(ctx, booking.ClassID)
	if err != nil {
		return nil, err
	}
	window := s.windowFor(class)
	minutesLeft := class.MinutesUntilStart(s.now())
	if minutesLeft < window.Minutes() {
		return nil, pkgerrors.New(pkgerrors.CodeWindowClosed, "cancellation window has closed").
			WithDetails(map[string]any{
				"minutes_until_start": int(minutesLeft),
				"cancel_before_min":   int(window.Minutes()),
			})
	}

	return s.cancel(ctx, booking, class.ID)
}

func (s *service) AdminRemove(ctx context.Context, bookingID uuid.UUID) (result *CancelResult, err error) {
	defer func() { s.observeCancel(opAdminRemove, result, err) }()

	if bookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id is required")
	}
	booking, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == enums.BookingStatusCanceled {
		return &CancelResult{Booking: booking, AlreadyCanceled: true}, nil
	}
	return s.cancel(ctx, booking, booking.ClassID)
}

func (s *service) observeCancel(op string, result *CancelResult, err error) {
	if err == nil && result != nil && result.AlreadyCanceled {
		s.metrics.Observe(op, outcomeNoop)
		return
	}
	s.observe(op, err)
}

// windowFor prefers the class's own window, zero included; NULL falls back
// to the studio default.
func (s *service) windowFor(class *models.Class) time.Duration {
	if class.CancelBeforeMin != nil {
		return time.Duration(*class.CancelBeforeMin) * time.Minute
	}
	return s.cancelWindow
}

func (s *service) findBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.repo.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}
	return booking, nil
}

// cancel locks class, user and booking in that order, then releases the seats
// and refunds every debit the booking wrote.
func (s *service) cancel(ctx context.Context, booking *models.Booking, classID uuid.UUID) (*CancelResult, error) {
	ctx = s.logg.WithField(ctx, "booking_id", booking.ID.String())

	var result *CancelResult
	err := s.db.WithRetryTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.capacity.WithTx(tx).LockClass(ctx, classID); err != nil {
			return err
		}
		if booking.UserID != nil {
			if _, err := s.ledger.WithTx(tx).LockUser(ctx, *booking.UserID); err != nil {
				return err
			}
		}
		var err error
		result, err = s.cancelLocked(ctx, tx, booking.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !result.AlreadyCanceled {
		s.metrics.SeatsReleased(result.Booking.Quantity)
		s.logg.Info(ctx, "booking canceled")
	}
	return result, nil
}

// cancelLocked runs with the class and user rows already locked.
func (s *service) cancelLocked(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) (*CancelResult, error) {
	repo := s.repo.WithTx(tx)
	locked, err := repo.LockByID(ctx, bookingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock booking")
	}
	if locked.Status == enums.BookingStatusCanceled {
		return &CancelResult{Booking: locked, AlreadyCanceled: true}, nil
	}

	now := s.now()
	if err := repo.MarkCanceled(ctx, bookingID, now, true); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark booking canceled")
	}
	refunds, err := s.ledger.WithTx(tx).RefundBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	refunded := 0
	for _, r := range refunds {
		refunded += r.Delta
	}
	locked.Status = enums.BookingStatusCanceled
	locked.CanceledAt = &now
	locked.RefundToken = true
	return &CancelResult{Booking: locked, Refunds: refunds, Refunded: refunded}, nil
}

// CancelClass flags the class and removes every active booking with a refund
// inside one transaction.
func (s *service) CancelClass(ctx context.Context, classID uuid.UUID) (result *ClassCancelResult, err error) {
	defer func() { s.observe(opCancelClass, err) }()

	if classID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "class id is required")
	}
	ctx = s.logg.WithField(ctx, "class_id", classID.String())

	err = s.db.WithRetryTx(ctx, func(tx *gorm.DB) error {
		result = &ClassCancelResult{ClassID: classID}
		repo := s.repo.WithTx(tx)
		class, err := s.capacity.WithTx(tx).LockClass(ctx, classID)
		if err != nil {
			return err
		}
		if class.IsCanceled {
			result.AlreadyCanceled = true
		} else if err := repo.MarkClassCanceled(ctx, classID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark class canceled")
		}

		active, err := repo.ListActiveByClass(ctx, classID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active bookings")
		}

		// users are locked in id order so concurrent class cancels cannot deadlock
		userIDs := make([]uuid.UUID, 0, len(active))
		seen := map[uuid.UUID]bool{}
		for _, b := range active {
			if b.UserID != nil && !seen[*b.UserID] {
				seen[*b.UserID] = true
				userIDs = append(userIDs, *b.UserID)
			}
		}
		sort.Slice(userIDs, func(i, j int) bool { return userIDs[i].String() < userIDs[j].String() })
		ledgerTx := s.ledger.WithTx(tx)
		for _, id := range userIDs {
			if _, err := ledgerTx.LockUser(ctx, id); err != nil {
				return err
			}
		}

		for _, b := range active {
			res, err := s.cancelLocked(ctx, tx, b.ID)
			if err != nil {
				return err
			}
			if !res.AlreadyCanceled {
				result.Removed++
				result.Refunded += res.Refunded
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"removed": result.Removed, "refunded": result.Refunded})
	s.logg.Info(logCtx, "class canceled")
	return result, nil
}

func (s *service) MarkAttendance(ctx context.Context, bookingID uuid.UUID, attended bool) (*models.Booking, error) {
	if bookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id is required")
	}
	var booking *models.Booking
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockByID(ctx, bookingID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock booking")
		}
		if locked.Status != enums.BookingStatusActive {
			return pkgerrors.New(pkgerrors.CodeBookingNotActive, "booking is not active")
		}
		if err := repo.SetAttended(ctx, bookingID, attended); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark attendance")
		}
		locked.Attended = attended
		booking = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}
