package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type InventoryHandler struct {
	inventoryService service.InventoryService
}

func NewInventoryHandler(inventoryService service.InventoryService) *InventoryHandler {
	return &InventoryHandler{inventoryService: inventoryService}
}

func (h *InventoryHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyRole := middleware.RequireRole(model.RoleRequester, model.RoleDivisionChief, model.RoleAdmin)
	reviewers := middleware.RequireRole(model.RoleDivisionChief, model.RoleAdmin)
	adminOnly := middleware.RequireRole(model.RoleAdmin)

	items := router.Group("/api/items")
	{
		items.GET("", anyRole, h.ListItems)
		items.GET("/low-stock", reviewers, h.ListLowStock)
		items.GET("/:id", anyRole, h.GetItem)
		items.GET("/:id/movements", reviewers, h.ListMovements)
		items.POST("", adminOnly, h.CreateItem)
		items.PUT("/:id", adminOnly, h.UpdateItem)
		items.PUT("/:id/adjust", adminOnly, h.AdjustStock)
		items.DELETE("/:id", adminOnly, h.DeleteItem)
	}

	categories := router.Group("/api/categories")
	{
		categories.GET("", anyRole, h.ListCategories)
		categories.POST("", adminOnly, h.CreateCategory)
	}
}

// ListItems returns the item catalog, optionally filtered by name search
// @Summary      List items
// @Tags         items
// @Produce      json
// @Security     BearerAuth
// @Param        search  query  string  false  "Name search"
// @Param        page    query  int     false  "Page number"
// @Param        limit   query  int     false  "Page size"
// @Success      200  {object}  response.Response{data=[]model.Item}
// @Router       /items [get]
func (h *InventoryHandler) ListItems(c *gin.Context) {
	params := pagination.Parse(c)

	items, total, err := h.inventoryService.ListItems(c.Request.Context(), params.Page, params.Limit, c.Query("search"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, items, params.Page, params.Limit, total))
}

// ListLowStock returns items at or below their reorder level
func (h *InventoryHandler) ListLowStock(c *gin.Context) {
	items, err := h.inventoryService.ListLowStock(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, items))
}

func (h *InventoryHandler) GetItem(c *gin.Context) {
	item, err := h.inventoryService.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, item))
}

// ListMovements returns the stock ledger for one item, newest first
func (h *InventoryHandler) ListMovements(c *gin.Context) {
	params := pagination.Parse(c)

	movements, total, err := h.inventoryService.ListMovements(c.Request.Context(), c.Param("id"), params.Page, params.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, movements, params.Page, params.Limit, total))
}

// CreateItem adds an item to the catalog
// @Summary      Create an item
// @Tags         items
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateItemInput  true  "Item payload"
// @Success      201      {object}  response.Response{data=model.Item}
// @Router       /items [post]
func (h *InventoryHandler) CreateItem(c *gin.Context) {
	var input service.CreateItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	item, err := h.inventoryService.CreateItem(c.Request.Context(), currentUserID(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, item))
}

func (h *InventoryHandler) UpdateItem(c *gin.Context) {
	var input service.UpdateItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	item, err := h.inventoryService.UpdateItem(c.Request.Context(), c.Param("id"), currentUserID(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, item))
}

// AdjustStock sets an absolute stock level with a mandatory note
// @Summary      Adjust stock
// @Description  Sets a new absolute quantity for an item and books the delta in the stock ledger
// @Tags         items
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                    true  "Item ID"
// @Param        payload  body      service.AdjustStockInput  true  "Adjustment"
// @Success      200      {object}  response.Response{data=model.Item}
// @Router       /items/{id}/adjust [put]
func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	var input service.AdjustStockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	item, err := h.inventoryService.AdjustStock(c.Request.Context(), c.Param("id"), currentUserID(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, item))
}

func (h *InventoryHandler) DeleteItem(c *gin.Context) {
	if err := h.inventoryService.DeleteItem(c.Request.Context(), c.Param("id"), currentUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}

func (h *InventoryHandler) ListCategories(c *gin.Context) {
	categories, err := h.inventoryService.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, categories))
}

func (h *InventoryHandler) CreateCategory(c *gin.Context) {
	var input service.CreateCategoryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	category, err := h.inventoryService.CreateCategory(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, category))
}
