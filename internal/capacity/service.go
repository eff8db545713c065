package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type boundTx struct {
	tx *gorm.DB
}

func (b boundTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(b.tx)
}

// Snapshot is a class's seat accounting at one read.
type Snapshot struct {
	ClassID   uuid.UUID `json:"class_id"`
	Capacity  int       `json:"capacity"`
	Used      int       `json:"used"`
	Available int       `json:"available"`
}

// Service computes seat usage. Decisions that consume seats must be made on a
// tx-bound service after LockClass.
type Service interface {
	WithTx(tx *gorm.DB) Service
	UsedSpots(ctx context.Context, classID uuid.UUID) (int, error)
	Available(ctx context.Context, classID uuid.UUID) (int, error)
	CanAccommodate(ctx context.Context, classID uuid.UUID, quantity int) (bool, error)
	Snapshot(ctx context.Context, classID uuid.UUID) (*Snapshot, error)
	FindClass(ctx context.Context, classID uuid.UUID) (*models.Class, error)
	LockClass(ctx context.Context, classID uuid.UUID) (*models.Class, error)
	UpdateCapacity(ctx context.Context, classID uuid.UUID, capacity int) (*Snapshot, error)
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService wires the capacity allocator.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("capacity repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), tx: boundTx{tx: tx}}
}

func (s *service) UsedSpots(ctx context.Context, classID uuid.UUID) (int, error) {
	used, err := s.repo.UsedSpots(ctx, classID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum active bookings")
	}
	return used, nil
}

func (s *service) Available(ctx context.Context, classID uuid.UUID) (int, error) {
	snap, err := s.Snapshot(ctx, classID)
	if err != nil {
		return 0, err
	}
	return snap.Available, nil
}

func (s *service) CanAccommodate(ctx context.Context, classID uuid.UUID, quantity int) (bool, error) {
	if quantity < 1 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	available, err := s.Available(ctx, classID)
	if err != nil {
		return false, err
	}
	return available >= quantity, nil
}

func (s *service) Snapshot(ctx context.Context, classID uuid.UUID) (*Snapshot, error) {
	class, err := s.FindClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, class)
}

func (s *service) snapshot(ctx context.Context, class *models.Class) (*Snapshot, error) {
	used, err := s.UsedSpots(ctx, class.ID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ClassID:   class.ID,
		Capacity:  class.Capacity,
		Used:      used,
		Available: available(class.Capacity, used),
	}, nil
}

func available(capacity, used int) int {
	if used >= capacity {
		return 0
	}
	return capacity - used
}

func (s *service) FindClass(ctx context.Context, classID uuid.UUID) (*models.Class, error) {
	if classID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "class id is required")
	}
	class, err := s.repo.FindClass(ctx, classID)
	return class, classError(err, "load class")
}

func (s *service) LockClass(ctx context.Context, classID uuid.UUID) (*models.Class, error) {
	if classID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "class id is required")
	}
	class, err := s.repo.LockClass(ctx, classID)
	return class, classError(err, "lock class")
}

func classError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "class not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

// UpdateCapacity refuses to drop below the seats already held.
func (s *service) UpdateCapacity(ctx context.Context, classID uuid.UUID, capacity int) (*Snapshot, error) {
	if capacity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capacity must be at least 1")
	}

	var snap *Snapshot
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		bound := &service{repo: s.repo.WithTx(tx), tx: boundTx{tx: tx}}
		class, err := bound.LockClass(ctx, classID)
		if err != nil {
			return err
		}
		used, err := bound.UsedSpots(ctx, classID)
		if err != nil {
			return err
		}
		if capacity < used {
			return pkgerrors.New(pkgerrors.CodeCapacityTooSmall, "capacity is below seats already booked").
				WithDetails(map[string]any{"used": used, "requested": capacity})
		}
		if err := bound.repo.UpdateCapacity(ctx, classID, capacity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update capacity")
		}
		class.Capacity = capacity
		snap = &Snapshot{ClassID: class.ID, Capacity: capacity, Used: used, Available: available(capacity, used)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
