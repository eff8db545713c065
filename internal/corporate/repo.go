package corporate

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// Repository reads the users eligible for monthly corporate credits.
type Repository interface {
	ListAffiliatedUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListAffiliatedUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("affiliation IN ?", []enums.Affiliation{enums.AffiliationWellhub, enums.AffiliationTotalpass}).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
