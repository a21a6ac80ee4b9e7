package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateItemInput struct {
	ItemNo          *string         `json:"item_no"`
	Name            string          `json:"name" binding:"required"`
	Description     string          `json:"description"`
	CategoryID      *string         `json:"category_id"`
	QuantityOnHand  int             `json:"quantity_on_hand" binding:"gte=0"`
	ReorderLevel    int             `json:"reorder_level" binding:"gte=0"`
	ReorderQuantity int             `json:"reorder_quantity" binding:"gte=0"`
	Unit            string          `json:"unit"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
}

type UpdateItemInput struct {
	ItemNo          *string          `json:"item_no"`
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	CategoryID      *string          `json:"category_id"`
	ReorderLevel    *int             `json:"reorder_level"`
	ReorderQuantity *int             `json:"reorder_quantity"`
	Unit            *string          `json:"unit"`
	UnitCost        *decimal.Decimal `json:"unit_cost"`
}

type AdjustStockInput struct {
	NewQuantity int    `json:"new_quantity" binding:"gte=0"`
	Note        string `json:"note" binding:"required"`
}

type CreateCategoryInput struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type MovementResponse struct {
	ID              string  `json:"id"`
	ItemID          string  `json:"item_id"`
	RequestID       *string `json:"request_id,omitempty"`
	MovementType    string  `json:"movement_type"`
	QuantityChanged int     `json:"quantity_changed"`
	StockAfter      int     `json:"stock_after"`
	Note            string  `json:"note,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// InventoryService manages the item catalog and the stock ledger outside the
// request workflow: CRUD, manual adjustments, low-stock reporting, categories.
type InventoryService interface {
	CreateItem(ctx context.Context, actorID string, input CreateItemInput) (*model.Item, error)
	UpdateItem(ctx context.Context, id, actorID string, input UpdateItemInput) (*model.Item, error)
	DeleteItem(ctx context.Context, id, actorID string) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, page, limit int, search string) ([]model.Item, int64, error)
	ListLowStock(ctx context.Context) ([]model.Item, error)
	AdjustStock(ctx context.Context, id, actorID string, input AdjustStockInput) (*model.Item, error)
	ListMovements(ctx context.Context, itemID string, page, limit int) ([]MovementResponse, int64, error)
	CreateCategory(ctx context.Context, input CreateCategoryInput) (*model.Category, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
}

type inventoryService struct {
	itemRepo  repository.ItemRepository
	userRepo  repository.UserRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
}

func NewInventoryService(
	itemRepo repository.ItemRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) InventoryService {
	return &inventoryService{
		itemRepo:  itemRepo,
		userRepo:  userRepo,
		auditRepo: auditRepo,
		txManager: txManager,
	}
}

func (s *inventoryService) CreateItem(ctx context.Context, actorID string, input CreateItemInput) (*model.Item, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if input.Name == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrValidation)
	}
	if input.QuantityOnHand < 0 {
		return nil, fmt.Errorf("%w: quantity on hand cannot be negative", ErrValidation)
	}

	item := model.Item{
		ItemNo:          input.ItemNo,
		Name:            input.Name,
		Description:     input.Description,
		QuantityOnHand:  input.QuantityOnHand,
		ReorderLevel:    input.ReorderLevel,
		ReorderQuantity: input.ReorderQuantity,
		Unit:            input.Unit,
		UnitCost:        input.UnitCost,
	}
	if input.CategoryID != nil && *input.CategoryID != "" {
		cid, parseErr := uuid.Parse(*input.CategoryID)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: invalid category id", ErrValidation)
		}
		item.CategoryID = &cid
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.itemRepo.Create(txCtx, &item); createErr != nil {
			return fmt.Errorf("failed to create item: %w", createErr)
		}
		if item.QuantityOnHand > 0 {
			movement := &model.StockMovement{
				ItemID:          item.ID,
				MovementType:    model.MovementIn,
				QuantityChanged: item.QuantityOnHand,
				StockAfter:      item.QuantityOnHand,
				Note:            "initial stock",
			}
			if mvErr := s.itemRepo.CreateMovement(txCtx, movement); mvErr != nil {
				return fmt.Errorf("failed to record initial stock: %w", mvErr)
			}
		}
		return s.audit(txCtx, &actor.ID, model.ActionCreateItem, item.ID.String(), item.Name)
	})
	if err != nil {
		return nil, err
	}

	return &item, nil
}

func (s *inventoryService) UpdateItem(ctx context.Context, id, actorID string, input UpdateItemInput) (*model.Item, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	itemID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid item id", ErrValidation)
	}

	var item *model.Item
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		item, txErr = s.itemRepo.FindByIDForUpdate(txCtx, itemID)
		if txErr != nil {
			if errors.Is(txErr, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: item %s", ErrNotFound, id)
			}
			return fmt.Errorf("failed to lock item: %w", txErr)
		}

		if input.ItemNo != nil {
			item.ItemNo = input.ItemNo
		}
		if input.Name != nil {
			if *input.Name == "" {
				return fmt.Errorf("%w: item name cannot be empty", ErrValidation)
			}
			item.Name = *input.Name
		}
		if input.Description != nil {
			item.Description = *input.Description
		}
		if input.CategoryID != nil {
			if *input.CategoryID == "" {
				item.CategoryID = nil
			} else {
				cid, parseErr := uuid.Parse(*input.CategoryID)
				if parseErr != nil {
					return fmt.Errorf("%w: invalid category id", ErrValidation)
				}
				item.CategoryID = &cid
			}
		}
		if input.ReorderLevel != nil {
			item.ReorderLevel = *input.ReorderLevel
		}
		if input.ReorderQuantity != nil {
			item.ReorderQuantity = *input.ReorderQuantity
		}
		if input.Unit != nil {
			item.Unit = *input.Unit
		}
		if input.UnitCost != nil {
			item.UnitCost = *input.UnitCost
		}

		if updateErr := s.itemRepo.Update(txCtx, item); updateErr != nil {
			return fmt.Errorf("failed to update item: %w", updateErr)
		}
		return s.audit(txCtx, &actor.ID, model.ActionUpdateItem, item.ID.String(), item.Name)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

func (s *inventoryService) DeleteItem(ctx context.Context, id, actorID string) error {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return err
	}
	itemID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid item id", ErrValidation)
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		item, findErr := s.itemRepo.FindByID(txCtx, itemID)
		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: item %s", ErrNotFound, id)
			}
			return fmt.Errorf("failed to load item: %w", findErr)
		}
		if deleteErr := s.itemRepo.Delete(txCtx, itemID); deleteErr != nil {
			return fmt.Errorf("failed to delete item: %w", deleteErr)
		}
		return s.audit(txCtx, &actor.ID, model.ActionDeleteItem, item.ID.String(), item.Name)
	})
}

func (s *inventoryService) GetItem(ctx context.Context, id string) (*model.Item, error) {
	itemID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid item id", ErrValidation)
	}
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: item %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	return item, nil
}

func (s *inventoryService) ListItems(ctx context.Context, page, limit int, search string) ([]model.Item, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	items, total, err := s.itemRepo.List(ctx, page, limit, search)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	return items, total, nil
}

func (s *inventoryService) ListLowStock(ctx context.Context) ([]model.Item, error) {
	items, err := s.itemRepo.ListLowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list low-stock items: %w", err)
	}
	return items, nil
}

// AdjustStock sets an absolute new quantity and books the delta as an ADJUST
// movement. A note is mandatory so the ledger explains itself.
func (s *inventoryService) AdjustStock(ctx context.Context, id, actorID string, input AdjustStockInput) (*model.Item, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	itemID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid item id", ErrValidation)
	}
	if input.NewQuantity < 0 {
		return nil, fmt.Errorf("%w: stock cannot go negative", ErrValidation)
	}
	if input.Note == "" {
		return nil, fmt.Errorf("%w: an adjustment note is required", ErrValidation)
	}

	var item *model.Item
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		item, txErr = s.itemRepo.FindByIDForUpdate(txCtx, itemID)
		if txErr != nil {
			if errors.Is(txErr, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: item %s", ErrNotFound, id)
			}
			return fmt.Errorf("failed to lock item: %w", txErr)
		}

		delta := input.NewQuantity - item.QuantityOnHand
		if delta == 0 {
			return nil
		}

		if updateErr := s.itemRepo.UpdateStock(txCtx, item.ID, input.NewQuantity); updateErr != nil {
			return fmt.Errorf("failed to update stock: %w", updateErr)
		}
		item.QuantityOnHand = input.NewQuantity

		movement := &model.StockMovement{
			ItemID:          item.ID,
			MovementType:    model.MovementAdjust,
			QuantityChanged: delta,
			StockAfter:      input.NewQuantity,
			Note:            input.Note,
		}
		if mvErr := s.itemRepo.CreateMovement(txCtx, movement); mvErr != nil {
			return fmt.Errorf("failed to record stock movement: %w", mvErr)
		}
		return s.audit(txCtx, &actor.ID, model.ActionAdjustStock, item.ID.String(), item.Name)
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

func (s *inventoryService) ListMovements(ctx context.Context, itemID string, page, limit int) ([]MovementResponse, int64, error) {
	id, err := uuid.Parse(itemID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: invalid item id", ErrValidation)
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	movements, total, err := s.itemRepo.ListMovements(ctx, id, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list stock movements: %w", err)
	}

	result := make([]MovementResponse, 0, len(movements))
	for _, mv := range movements {
		resp := MovementResponse{
			ID:              mv.ID.String(),
			ItemID:          mv.ItemID.String(),
			MovementType:    mv.MovementType,
			QuantityChanged: mv.QuantityChanged,
			StockAfter:      mv.StockAfter,
			Note:            mv.Note,
			CreatedAt:       mv.CreatedAt.Format(time.RFC3339),
		}
		if mv.RequestID != nil {
			rid := mv.RequestID.String()
			resp.RequestID = &rid
		}
		result = append(result, resp)
	}
	return result, total, nil
}

func (s *inventoryService) CreateCategory(ctx context.Context, input CreateCategoryInput) (*model.Category, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: category name is required", ErrValidation)
	}
	category := model.Category{Name: input.Name, Description: input.Description}
	if err := s.itemRepo.CreateCategory(ctx, &category); err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &category, nil
}

func (s *inventoryService) ListCategories(ctx context.Context) ([]model.Category, error) {
	categories, err := s.itemRepo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

func (s *inventoryService) loadActor(ctx context.Context, actorID string) (*model.User, error) {
	uid, err := uuid.Parse(actorID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user id", ErrValidation)
	}
	actor, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, actorID)
	}
	return actor, nil
}

func (s *inventoryService) audit(txCtx context.Context, userID *uuid.UUID, action, entityID, entityName string) error {
	entry := &model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
	}
	if err := s.auditRepo.Log(txCtx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
