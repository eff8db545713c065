package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// boundTx runs fn on an already open transaction.
type boundTx struct {
	tx *gorm.DB
}

func (b boundTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(b.tx)
}

// Service is the ledger store: balance derivation and immutable appends.
type Service interface {
	// WithTx binds every call to the caller's transaction.
	WithTx(tx *gorm.DB) Service

	Balance(ctx context.Context, userID uuid.UUID, asOf time.Time) (int, error)
	Buckets(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]Bucket, error)
	Append(ctx context.Context, input AppendInput) (*models.TokenLedger, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.TokenLedger, error)
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[models.TokenLedger], error)
	HasReasonSince(ctx context.Context, userID uuid.UUID, reason enums.LedgerReason, since time.Time) (bool, error)
	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)

	Debit(ctx context.Context, input DebitInput) ([]models.TokenLedger, error)
	RefundBooking(ctx context.Context, bookingID uuid.UUID) ([]models.TokenLedger, error)
	CreditPurchase(ctx context.Context, input CreditPurchaseInput) (*models.PackPurchase, error)
	ResetBalance(ctx context.Context, input ResetInput) ([]models.TokenLedger, error)

	AdminAdjust(ctx context.Context, input AdjustInput) (*AdjustResult, error)
	GrantPack(ctx context.Context, input GrantPackInput) (*models.PackPurchase, error)
	RebuildProjection(ctx context.Context, purchaseID uuid.UUID) (int, error)
}

// AppendInput is one validated ledger row.
type AppendInput struct {
	UserID         uuid.UUID
	Delta          int
	Reason         enums.LedgerReason
	PackPurchaseID *uuid.UUID
	BookingID      *uuid.UUID
	Note           *string
}

// DebitInput charges a booking against the user's buckets.
type DebitInput struct {
	UserID    uuid.UUID
	BookingID uuid.UUID
	Amount    int
	AsOf      time.Time
}

// CreditPurchaseInput instantiates a pack for a user and credits it.
type CreditPurchaseInput struct {
	UserID    uuid.UUID
	Pack      *models.Pack
	PaymentID *uuid.UUID
	Reason    enums.LedgerReason
	Note      *string
}

// ResetInput zeroes every bucket of a user with offsetting ADMIN_ADJUST rows.
type ResetInput struct {
	UserID uuid.UUID
	AsOf   time.Time
	Note   string
}

// AdjustInput is a manual admin correction.
type AdjustInput struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Delta  int       `json:"delta" validate:"required"`
	Note   string    `json:"note" validate:"max=500"`
}

// AdjustResult reports the rows written and the balance afterwards.
type AdjustResult struct {
	Entries []models.TokenLedger `json:"entries"`
	Balance int                  `json:"balance"`
}

// GrantPackInput gives a user a pack without a payment.
type GrantPackInput struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	PackID uuid.UUID `json:"pack_id" validate:"required"`
	Note   string    `json:"note" validate:"max=500"`
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	return &service{repo: repo, tx: tx, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), tx: boundTx{tx: tx}, now: s.now}
}

func (s *service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t.UTC()
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID, asOf time.Time) (int, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	balance, err := s.repo.Balance(ctx, userID, s.asOf(asOf))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read balance")
	}
	return balance, nil
}

func (s *service) Buckets(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]Bucket, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return s.buckets(ctx, s.repo, userID, s.asOf(asOf))
}

func (s *service) buckets(ctx context.Context, repo Repository, userID uuid.UUID, asOf time.Time) ([]Bucket, error) {
	buckets, err := repo.PurchaseBuckets(ctx, userID, asOf)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read purchase buckets")
	}
	pool, err := repo.PoolBalance(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read pool balance")
	}
	return append(buckets, Bucket{Remaining: pool}), nil
}

func (s *service) Append(ctx context.Context, input AppendInput) (*models.TokenLedger, error) {
	if err := validateAppend(input); err != nil {
		return nil, err
	}
	var entry *models.TokenLedger
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.append(ctx, s.repo.WithTx(tx), input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func validateAppend(input AppendInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Delta == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}
	if !input.Reason.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger reason %q", input.Reason))
	}
	return nil
}

// append writes the row and refreshes the purchase projection in the same tx.
func (s *service) append(ctx context.Context, repo Repository, input AppendInput) (*models.TokenLedger, error) {
	if err := validateAppend(input); err != nil {
		return nil, err
	}
	entry := &models.TokenLedger{
		ID:             uuid.New(),
		UserID:         input.UserID,
		Delta:          input.Delta,
		Reason:         input.Reason,
		PackPurchaseID: input.PackPurchaseID,
		BookingID:      input.BookingID,
		Note:           input.Note,
		CreatedAt:      s.now(),
	}
	if err := repo.Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}
	if input.PackPurchaseID != nil {
		if _, err := refreshProjection(ctx, repo, *input.PackPurchaseID); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

func refreshProjection(ctx context.Context, repo Repository, purchaseID uuid.UUID) (int, error) {
	left, err := repo.SumForPurchase(ctx, purchaseID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum purchase entries")
	}
	if err := repo.SetClassesLeft(ctx, purchaseID, left); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update classes_left")
	}
	return left, nil
}

func (s *service) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.TokenLedger, error) {
	if bookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id is required")
	}
	entries, err := s.repo.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list booking entries")
	}
	return entries, nil
}

// History lists a user's ledger rows newest first.
func (s *service) History(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[models.TokenLedger], error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByUser(ctx, userID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger")
	}
	page := pagination.NewPage(rows, params.Limit, func(e models.TokenLedger) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return &page, nil
}

func (s *service) HasReasonSince(ctx context.Context, userID uuid.UUID, reason enums.LedgerReason, since time.Time) (bool, error) {
	if userID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !reason.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger reason %q", reason))
	}
	found, err := s.repo.HasReasonSince(ctx, userID, reason, since.UTC())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup ledger reason")
	}
	return found, nil
}

func (s *service) LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.repo.LockUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock user")
	}
	return user, nil
}

// Debit writes one BOOKING_DEBIT row per funding bucket. The caller holds the
// user lock and has already checked the balance.
func (s *service) Debit(ctx context.Context, input DebitInput) ([]models.TokenLedger, error) {
	if input.UserID == uuid.Nil || input.BookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and booking id are required")
	}
	var entries []models.TokenLedger
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		buckets, err := s.buckets(ctx, repo, input.UserID, s.asOf(input.AsOf))
		if err != nil {
			return err
		}
		allocations, err := Allocate(buckets, input.Amount)
		if err != nil {
			return err
		}
		bookingID := input.BookingID
		for _, a := range allocations {
			entry, err := s.append(ctx, repo, AppendInput{
				UserID:         input.UserID,
				Delta:          -a.Amount,
				Reason:         enums.LedgerReasonBookingDebit,
				PackPurchaseID: a.PackPurchaseID,
				BookingID:      &bookingID,
			})
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RefundBooking offsets every BOOKING_DEBIT of the booking not yet refunded,
// returning credit to the same purchase it was drawn from.
func (s *service) RefundBooking(ctx context.Context, bookingID uuid.UUID) ([]models.TokenLedger, error) {
	if bookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "booking id is required")
	}
	var refunds []models.TokenLedger
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		entries, err := repo.ListByBooking(ctx, bookingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list booking entries")
		}

		type key struct {
			user     uuid.UUID
			purchase uuid.UUID
		}
		net := map[key]int{}
		order := []key{}
		purchases := map[key]*uuid.UUID{}
		for _, e := range entries {
			if e.Reason != enums.LedgerReasonBookingDebit && e.Reason != enums.LedgerReasonCancelRefund {
				continue
			}
			k := key{user: e.UserID}
			if e.PackPurchaseID != nil {
				k.purchase = *e.PackPurchaseID
			}
			if _, seen := net[k]; !seen {
				order = append(order, k)
				purchases[k] = e.PackPurchaseID
			}
			net[k] += e.Delta
		}

		id := bookingID
		for _, k := range order {
			if net[k] >= 0 {
				continue
			}
			entry, err := s.append(ctx, repo, AppendInput{
				UserID:         k.user,
				Delta:          -net[k],
				Reason:         enums.LedgerReasonCancelRefund,
				PackPurchaseID: purchases[k],
				BookingID:      &id,
			})
			if err != nil {
				return err
			}
			refunds = append(refunds, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (s *service) CreditPurchase(ctx context.Context, input CreditPurchaseInput) (*models.PackPurchase, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Pack == nil || input.Pack.Classes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pack with positive classes is required")
	}
	if input.Reason == "" {
		input.Reason = enums.LedgerReasonPurchaseCredit
	}

	var purchase *models.PackPurchase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		purchase = &models.PackPurchase{
			ID:          uuid.New(),
			UserID:      input.UserID,
			PackID:      input.Pack.ID,
			ClassesLeft: input.Pack.Classes,
			ExpiresAt:   now.AddDate(0, 0, input.Pack.ValidityDays),
			PaymentID:   input.PaymentID,
			CreatedAt:   now,
		}
		if err := repo.CreatePurchase(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pack purchase")
		}
		purchaseID := purchase.ID
		_, err := s.append(ctx, repo, AppendInput{
			UserID:         input.UserID,
			Delta:          input.Pack.Classes,
			Reason:         input.Reason,
			PackPurchaseID: &purchaseID,
			Note:           input.Note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// ResetBalance writes one offsetting row per non-zero bucket so the usable
// balance becomes zero while every purchase keeps its own history.
func (s *service) ResetBalance(ctx context.Context, input ResetInput) ([]models.TokenLedger, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	var entries []models.TokenLedger
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		buckets, err := s.buckets(ctx, repo, input.UserID, s.asOf(input.AsOf))
		if err != nil {
			return err
		}
		note := input.Note
		for _, b := range buckets {
			if b.Remaining == 0 {
				continue
			}
			entry, err := s.append(ctx, repo, AppendInput{
				UserID:         input.UserID,
				Delta:          -b.Remaining,
				Reason:         enums.LedgerReasonAdminAdjust,
				PackPurchaseID: b.PackPurchaseID,
				Note:           &note,
			})
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AdminAdjust never lets a decrease take the balance below zero. Increases
// land in the pool; decreases drain buckets soonest-expiry first.
func (s *service) AdminAdjust(ctx context.Context, input AdjustInput) (*AdjustResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}

	result := &AdjustResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.WithTx(tx).LockUser(ctx, input.UserID); err != nil {
			return err
		}

		now := s.now()
		balance, err := repo.Balance(ctx, input.UserID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read balance")
		}

		var note *string
		if input.Note != "" {
			n := input.Note
			note = &n
		}

		if input.Delta > 0 {
			entry, err := s.append(ctx, repo, AppendInput{
				UserID: input.UserID,
				Delta:  input.Delta,
				Reason: enums.LedgerReasonAdminAdjust,
				Note:   note,
			})
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, *entry)
			result.Balance = balance + input.Delta
			return nil
		}

		needed := -input.Delta
		if balance < needed {
			return pkgerrors.New(pkgerrors.CodeInsufficientTokens, "adjustment would make the balance negative").
				WithDetails(map[string]any{"tokens": balance, "needed": needed})
		}
		buckets, err := s.buckets(ctx, repo, input.UserID, now)
		if err != nil {
			return err
		}
		allocations, err := Allocate(buckets, needed)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			entry, err := s.append(ctx, repo, AppendInput{
				UserID:         input.UserID,
				Delta:          -a.Amount,
				Reason:         enums.LedgerReasonAdminAdjust,
				PackPurchaseID: a.PackPurchaseID,
				Note:           note,
			})
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, *entry)
		}
		result.Balance = balance - needed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) GrantPack(ctx context.Context, input GrantPackInput) (*models.PackPurchase, error) {
	if input.UserID == uuid.Nil || input.PackID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and pack id are required")
	}
	var purchase *models.PackPurchase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		bound := s.WithTx(tx)
		if _, err := bound.LockUser(ctx, input.UserID); err != nil {
			return err
		}
		pack, err := s.repo.WithTx(tx).FindPack(ctx, input.PackID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "pack not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pack")
		}
		var note *string
		if input.Note != "" {
			n := input.Note
			note = &n
		}
		purchase, err = bound.CreditPurchase(ctx, CreditPurchaseInput{
			UserID: input.UserID,
			Pack:   pack,
			Reason: enums.LedgerReasonAdminAdjust,
			Note:   note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

func (s *service) RebuildProjection(ctx context.Context, purchaseID uuid.UUID) (int, error) {
	if purchaseID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "pack purchase id is required")
	}
	var left int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindPurchase(ctx, purchaseID); err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "pack purchase not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pack purchase")
		}
		var err error
		left, err = refreshProjection(ctx, repo, purchaseID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return left, nil
}
