package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestFilter narrows request listings
type RequestFilter struct {
	Status      string // derived status value, empty for all
	RequesterID *uuid.UUID
	DivisionID  *uuid.UUID
	Page        int
	Limit       int
}

// StatsFilter bounds the stats window
type StatsFilter struct {
	DivisionID *uuid.UUID
	From       *time.Time
	To         *time.Time
}

type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	CreateItem(ctx context.Context, item *model.RequestItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error)
	ListItems(ctx context.Context, requestID uuid.UUID) ([]model.RequestItem, error)
	Update(ctx context.Context, req *model.Request) error
	List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error)
	ListStageFields(ctx context.Context, filter StatsFilter) ([]model.Request, error)
	ReleasedValue(ctx context.Context, filter StatsFilter) (decimal.Decimal, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Omit("Items").Create(req).Error
}

func (r *requestRepository) CreateItem(ctx context.Context, item *model.RequestItem) error {
	return GetDB(ctx, r.db).Create(item).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).
		Preload("Requester").
		Preload("Evaluator").
		Preload("Admin").
		Preload("Items").
		Preload("Items.Item").
		First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// FindByIDForUpdate locks the request row for the duration of the surrounding
// transaction. No preloads — FOR UPDATE must not join.
func (r *requestRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) ListItems(ctx context.Context, requestID uuid.UUID) ([]model.RequestItem, error) {
	var items []model.RequestItem
	if err := GetDB(ctx, r.db).Preload("Item").
		Where("request_id = ?", requestID).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *requestRepository) Update(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Omit("Items", "Requester", "Evaluator", "Admin").Save(req).Error
}

// statusScope translates a derived status into SQL over the stage columns.
// Must stay in lockstep with (*model.Request).Status(); this is the only place
// the derivation is expressed in SQL.
func statusScope(db *gorm.DB, status string) *gorm.DB {
	notCancelled := db.Where("cancelled_at IS NULL")
	switch status {
	case model.StatusCancelled:
		return db.Where("cancelled_at IS NOT NULL")
	case model.StatusRejected:
		return notCancelled.Where("evaluator_status = ? OR admin_status = ?", model.StageRejected, model.StageRejected)
	case model.StatusPending:
		return notCancelled.
			Where("evaluator_status = ?", model.StagePending).
			Where("admin_status <> ?", model.StageRejected)
	case model.StatusEvaluatorApproved:
		return notCancelled.
			Where("evaluator_status = ? AND admin_status = ?", model.StageApproved, model.StagePending)
	case model.StatusAdminApproved:
		return notCancelled.
			Where("evaluator_status = ? AND admin_status = ?", model.StageApproved, model.StageApproved).
			Where("ready_for_pickup = false")
	case model.StatusFinalApproved:
		return notCancelled.
			Where("evaluator_status <> ? AND admin_status <> ?", model.StageRejected, model.StageRejected).
			Where("ready_for_pickup = true")
	}
	return db
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.Request, int64, error) {
	var requests []model.Request
	var total int64

	db := GetDB(ctx, r.db)

	build := func() *gorm.DB {
		q := db.Model(&model.Request{})
		if filter.Status != "" {
			q = statusScope(q, filter.Status)
		}
		if filter.RequesterID != nil {
			q = q.Where("requests.requester_id = ?", *filter.RequesterID)
		}
		if filter.DivisionID != nil {
			q = q.Joins("JOIN users ON users.id = requests.requester_id").
				Where("users.division_id = ?", *filter.DivisionID)
		}
		return q
	}

	if err := build().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := build().
		Preload("Requester").
		Preload("Items").
		Preload("Items.Item").
		Order("requests.created_at DESC").
		Offset(offset).Limit(filter.Limit).
		Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

// ListStageFields loads only the columns the status derivation needs, so the
// stats read model can fold them through model.Request.Status in Go.
func (r *requestRepository) ListStageFields(ctx context.Context, filter StatsFilter) ([]model.Request, error) {
	var requests []model.Request

	q := GetDB(ctx, r.db).Model(&model.Request{}).
		Select("requests.id, requests.is_urgent, requests.evaluator_status, requests.admin_status, requests.ready_for_pickup, requests.is_done, requests.cancelled_at")
	if filter.DivisionID != nil {
		q = q.Joins("JOIN users ON users.id = requests.requester_id").
			Where("users.division_id = ?", *filter.DivisionID)
	}
	if filter.From != nil {
		q = q.Where("requests.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("requests.created_at <= ?", *filter.To)
	}

	if err := q.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// ReleasedValue sums quantity * unit cost over lines of admin-approved
// requests in the window — the value of stock the workflow has released.
func (r *requestRepository) ReleasedValue(ctx context.Context, filter StatsFilter) (decimal.Decimal, error) {
	var row struct {
		Value decimal.Decimal
	}

	q := GetDB(ctx, r.db).Table("request_items").
		Select("COALESCE(SUM(request_items.quantity * items.unit_cost), 0) as value").
		Joins("JOIN items ON items.id = request_items.item_id").
		Joins("JOIN requests ON requests.id = request_items.request_id").
		Where("requests.admin_status = ?", model.StageApproved).
		Where("requests.cancelled_at IS NULL")
	if filter.DivisionID != nil {
		q = q.Joins("JOIN users ON users.id = requests.requester_id").
			Where("users.division_id = ?", *filter.DivisionID)
	}
	if filter.From != nil {
		q = q.Where("requests.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("requests.created_at <= ?", *filter.To)
	}

	if err := q.Scan(&row).Error; err != nil {
		return decimal.Zero, err
	}
	return row.Value, nil
}
