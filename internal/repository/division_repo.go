package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DivisionRepository interface {
	Create(ctx context.Context, division *model.Division) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Division, error)
	List(ctx context.Context) ([]model.Division, error)
	Update(ctx context.Context, division *model.Division) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type divisionRepository struct {
	db *gorm.DB
}

func NewDivisionRepository(db *gorm.DB) DivisionRepository {
	return &divisionRepository{db: db}
}

func (r *divisionRepository) Create(ctx context.Context, division *model.Division) error {
	return GetDB(ctx, r.db).Create(division).Error
}

func (r *divisionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Division, error) {
	var division model.Division
	if err := GetDB(ctx, r.db).First(&division, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &division, nil
}

func (r *divisionRepository) List(ctx context.Context) ([]model.Division, error) {
	var divisions []model.Division
	if err := GetDB(ctx, r.db).Order("name asc").Find(&divisions).Error; err != nil {
		return nil, err
	}
	return divisions, nil
}

func (r *divisionRepository) Update(ctx context.Context, division *model.Division) error {
	return GetDB(ctx, r.db).Save(division).Error
}

func (r *divisionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Division{}).Error
}
