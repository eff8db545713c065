package corporate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/internal/ledger"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
)

const defaultMonthlyCredits = 8

type txRunner interface {
	WithRetryTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service resets corporate users to their monthly allotment.
type Service interface {
	RunMonthly(ctx context.Context) (*RunSummary, error)
	GrantUser(ctx context.Context, userID uuid.UUID) (*GrantResult, error)
}

// RunSummary counts what one monthly pass did.
type RunSummary struct {
	Month   time.Time
	Granted int
	Skipped int
	Failed  int
}

// GrantResult is the outcome for a single user. Skipped means the month was
// already granted.
type GrantResult struct {
	UserID  uuid.UUID
	Skipped bool
	Reset   []models.TokenLedger
	Credit  *models.TokenLedger
}

type ServiceParams struct {
	Repo   Repository
	DB     txRunner
	Ledger ledger.Service
	// Credits sizes the grant per affiliation; missing tiers get 8.
	Credits map[enums.Affiliation]int
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	db      txRunner
	ledger  ledger.Service
	credits map[enums.Affiliation]int
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("corporate repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	credits := map[enums.Affiliation]int{}
	for affiliation, n := range params.Credits {
		credits[affiliation] = n
	}
	return &service{
		repo:    params.Repo,
		db:      params.DB,
		ledger:  params.Ledger,
		credits: credits,
		logg:    params.Logger,
		now:     params.Now,
	}, nil
}

// MonthStart is the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (s *service) creditsFor(affiliation enums.Affiliation) int {
	if !affiliation.IsCorporate() {
		return 0
	}
	if n, ok := s.credits[affiliation]; ok {
		return n
	}
	return defaultMonthlyCredits
}

// RunMonthly grants every affiliated user. One user's failure does not stop
// the others; all failures come back combined.
func (s *service) RunMonthly(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{Month: MonthStart(s.now())}
	ids, err := s.repo.ListAffiliatedUserIDs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list affiliated users")
	}

	var errs error
	for _, id := range ids {
		res, err := s.GrantUser(ctx, id)
		if err != nil {
			summary.Failed++
			errs = multierr.Append(errs, fmt.Errorf("user %s: %w", id, err))
			continue
		}
		if res.Skipped {
			summary.Skipped++
			continue
		}
		summary.Granted++
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"month":   summary.Month.Format("2006-01"),
		"granted": summary.Granted,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	})
	s.logg.Info(logCtx, "corporate monthly credits processed")
	return summary, errs
}

// GrantUser zeroes the user's balance with offsetting rows and appends the
// monthly CORPORATE_MONTHLY credit, at most once per calendar month.
func (s *service) GrantUser(ctx context.Context, userID uuid.UUID) (*GrantResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	now := s.now().UTC()
	month := MonthStart(now)

	var result *GrantResult
	err := s.db.WithRetryTx(ctx, func(tx *gorm.DB) error {
		result = &GrantResult{UserID: userID}
		ledgerTx := s.ledger.WithTx(tx)

		user, err := ledgerTx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		credits := s.creditsFor(user.Affiliation)
		if credits <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "user has no corporate allotment").
				WithDetails(map[string]any{"affiliation": user.Affiliation.String()})
		}

		granted, err := ledgerTx.HasReasonSince(ctx, userID, enums.LedgerReasonCorporateMonthly, month)
		if err != nil {
			return err
		}
		if granted {
			result.Skipped = true
			return nil
		}

		label := month.Format("2006-01")
		result.Reset, err = ledgerTx.ResetBalance(ctx, ledger.ResetInput{
			UserID: userID,
			AsOf:   now,
			Note:   "corporate monthly reset " + label,
		})
		if err != nil {
			return err
		}
		note := fmt.Sprintf("%s monthly credits %s", user.Affiliation, label)
		result.Credit, err = ledgerTx.Append(ctx, ledger.AppendInput{
			UserID: userID,
			Delta:  credits,
			Reason: enums.LedgerReasonCorporateMonthly,
			Note:   &note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
