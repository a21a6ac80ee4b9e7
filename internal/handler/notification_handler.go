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

type NotificationHandler struct {
	notificationService service.NotificationService
}

func NewNotificationHandler(notificationService service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func (h *NotificationHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyRole := middleware.RequireRole(model.RoleRequester, model.RoleDivisionChief, model.RoleAdmin)

	notifications := router.Group("/api/notifications")
	{
		notifications.GET("", anyRole, h.ListNotifications)
		notifications.GET("/unread-count", anyRole, h.CountUnread)
		notifications.PUT("/:id/read", anyRole, h.MarkRead)
		notifications.PUT("/read-all", anyRole, h.MarkAllRead)
	}
}

// ListNotifications returns the caller's notifications, newest first
// @Summary      List notifications
// @Tags         notifications
// @Produce      json
// @Security     BearerAuth
// @Param        unread  query  bool  false  "Only unread"
// @Param        page    query  int   false  "Page"
// @Param        limit   query  int   false  "Page size"
// @Success      200  {object}  response.Response{data=[]service.NotificationResponse}
// @Router       /notifications [get]
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	params := pagination.Parse(c)

	notifications, total, err := h.notificationService.ListNotifications(c.Request.Context(), currentUserID(c), unreadOnly, params.Page, params.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, notifications, params.Page, params.Limit, total))
}

func (h *NotificationHandler) CountUnread(c *gin.Context) {
	count, err := h.notificationService.CountUnread(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"unread": count}))
}

// MarkRead marks one of the caller's notifications as read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notificationService.MarkRead(c.Request.Context(), c.Param("id"), currentUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"read": true}))
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.notificationService.MarkAllRead(c.Request.Context(), currentUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"read": true}))
}
