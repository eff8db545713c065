package cron

import (
	"context"
	"errors"

	"github.com/humbertoham/wavestudio-sub000/internal/corporate"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
)

const corporateJobName = "corporate-monthly"

type corporateRunner interface {
	RunMonthly(ctx context.Context) (*corporate.RunSummary, error)
}

// CorporateMonthlyJob resets affiliated users to their monthly allotment. The
// service skips users already granted this month, so the job can run daily.
type CorporateMonthlyJob struct {
	svc  corporateRunner
	logg *logger.Logger
}

func NewCorporateMonthlyJob(svc corporateRunner, logg *logger.Logger) (*CorporateMonthlyJob, error) {
	if svc == nil {
		return nil, errors.New("corporate service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &CorporateMonthlyJob{svc: svc, logg: logg}, nil
}

func (j *CorporateMonthlyJob) Name() string { return corporateJobName }

func (j *CorporateMonthlyJob) Run(ctx context.Context) error {
	summary, err := j.svc.RunMonthly(ctx)
	if summary != nil && summary.Granted > 0 {
		grantCtx := j.logg.WithField(ctx, "granted", summary.Granted)
		j.logg.Info(grantCtx, "corporate credits granted")
	}
	return err
}
