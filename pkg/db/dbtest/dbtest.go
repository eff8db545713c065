// Package dbtest opens throwaway sqlite databases carrying the studio schema
// for repository and engine tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// sqlite ignores FOR UPDATE, so every connection shares one handle and
// transactions serialize the way row locks serialize them in postgres.
var schema = []string{
	`CREATE TABLE users (
		id text PRIMARY KEY,
		email text NOT NULL UNIQUE,
		name text NOT NULL DEFAULT '',
		role text NOT NULL DEFAULT 'USER',
		affiliation text NOT NULL DEFAULT 'NONE',
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE TABLE packs (
		id text PRIMARY KEY,
		name text NOT NULL,
		classes integer NOT NULL,
		price numeric NOT NULL,
		validity_days integer NOT NULL,
		is_active boolean NOT NULL DEFAULT 1,
		once_per_user boolean NOT NULL DEFAULT 0,
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE TABLE classes (
		id text PRIMARY KEY,
		title text NOT NULL DEFAULT '',
		date datetime NOT NULL,
		duration_min integer NOT NULL DEFAULT 60,
		capacity integer NOT NULL CHECK (capacity >= 1),
		credit_cost integer NOT NULL DEFAULT 1,
		is_canceled boolean NOT NULL DEFAULT 0,
		cancel_before_min integer CHECK (cancel_before_min >= 0),
		instructor_id text,
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE TABLE payments (
		id text PRIMARY KEY,
		provider text NOT NULL,
		status text NOT NULL DEFAULT 'PENDING',
		amount numeric NOT NULL,
		currency text NOT NULL,
		user_id text,
		pack_id text NOT NULL,
		provider_payment_id text UNIQUE,
		preference_id text,
		external_reference text NOT NULL UNIQUE,
		payer_email text,
		raw_payload blob,
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE TABLE pack_purchases (
		id text PRIMARY KEY,
		user_id text NOT NULL,
		pack_id text NOT NULL,
		classes_left integer NOT NULL,
		expires_at datetime NOT NULL,
		payment_id text UNIQUE,
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE TABLE bookings (
		id text PRIMARY KEY,
		user_id text,
		class_id text NOT NULL,
		quantity integer NOT NULL DEFAULT 1 CHECK (quantity >= 1),
		status text NOT NULL DEFAULT 'ACTIVE',
		pack_purchase_id text,
		refund_token boolean NOT NULL DEFAULT 0,
		attended boolean NOT NULL DEFAULT 0,
		canceled_at datetime,
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE UNIQUE INDEX ux_bookings_active_user_class ON bookings (user_id, class_id) WHERE status = 'ACTIVE' AND user_id IS NOT NULL`,
	`CREATE TABLE token_ledger (
		id text PRIMARY KEY,
		user_id text NOT NULL,
		delta integer NOT NULL CHECK (delta <> 0),
		reason text NOT NULL,
		pack_purchase_id text,
		booking_id text,
		note text,
		created_at datetime
	)`,
	`CREATE TRIGGER token_ledger_no_update BEFORE UPDATE ON token_ledger
	BEGIN SELECT RAISE(ABORT, 'token_ledger is append-only'); END`,
	`CREATE TRIGGER token_ledger_no_delete BEFORE DELETE ON token_ledger
	BEGIN SELECT RAISE(ABORT, 'token_ledger is append-only'); END`,
	`CREATE TABLE checkout_links (
		id text PRIMARY KEY,
		token text NOT NULL UNIQUE,
		user_id text NOT NULL,
		pack_id text NOT NULL,
		payment_id text NOT NULL,
		status text NOT NULL DEFAULT 'PENDING',
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE TABLE webhook_logs (
		id text PRIMARY KEY,
		provider text NOT NULL,
		event_type text NOT NULL DEFAULT '',
		delivery_id text NOT NULL DEFAULT '',
		request_id text NOT NULL DEFAULT '',
		signature text NOT NULL DEFAULT '',
		payload blob,
		signature_valid boolean NOT NULL DEFAULT 0,
		processed_ok boolean NOT NULL DEFAULT 0,
		outcome text,
		error text,
		created_at datetime,
		processed_at datetime
	)`,
}

// Open returns a private in-memory database with the full schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:studio_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// Now returns a second-aligned UTC instant so stored timestamps compare cleanly.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func CreateUser(t testing.TB, db *gorm.DB, affiliation enums.Affiliation) *models.User {
	t.Helper()
	id := uuid.New()
	user := &models.User{
		ID:          id,
		Email:       fmt.Sprintf("%s@studio.test", id.String()[:8]),
		Role:        enums.RoleUser,
		Affiliation: affiliation,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func CreatePack(t testing.TB, db *gorm.DB, classes, validityDays int, price string) *models.Pack {
	t.Helper()
	pack := &models.Pack{
		Name:         fmt.Sprintf("%d classes", classes),
		Classes:      classes,
		Price:        decimal.RequireFromString(price),
		ValidityDays: validityDays,
		IsActive:     true,
	}
	require.NoError(t, db.Create(pack).Error)
	return pack
}

// CreateClass schedules a class starting `in` from now.
func CreateClass(t testing.TB, db *gorm.DB, capacity, creditCost int, in time.Duration) *models.Class {
	t.Helper()
	class := &models.Class{
		Title:       "Reformer",
		Date:        Now().Add(in),
		DurationMin: 50,
		Capacity:    capacity,
		CreditCost:  creditCost,
	}
	require.NoError(t, db.Create(class).Error)
	return class
}

// GrantPurchase writes a purchase plus its PURCHASE_CREDIT row directly.
func GrantPurchase(t testing.TB, db *gorm.DB, userID uuid.UUID, pack *models.Pack, expiresAt time.Time) *models.PackPurchase {
	t.Helper()
	purchase := &models.PackPurchase{
		UserID:      userID,
		PackID:      pack.ID,
		ClassesLeft: pack.Classes,
		ExpiresAt:   expiresAt,
	}
	require.NoError(t, db.Create(purchase).Error)
	require.NoError(t, db.Create(&models.TokenLedger{
		UserID:         userID,
		Delta:          pack.Classes,
		Reason:         enums.LedgerReasonPurchaseCredit,
		PackPurchaseID: &purchase.ID,
	}).Error)
	return purchase
}

// GrantUnattributed credits the pool that never expires.
func GrantUnattributed(t testing.TB, db *gorm.DB, userID uuid.UUID, delta int) {
	t.Helper()
	require.NoError(t, db.Create(&models.TokenLedger{
		UserID: userID,
		Delta:  delta,
		Reason: enums.LedgerReasonAdminAdjust,
	}).Error)
}

func CountLedger(t testing.TB, db *gorm.DB, where string, args ...any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.TokenLedger{}).Where(where, args...).Count(&count).Error)
	return count
}
