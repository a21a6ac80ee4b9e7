package handler

import (
	"errors"
	"net/http"

	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto HTTP statuses: validation problems are
// 400, missing records 404, permission problems 403, and state conflicts
// (bad transitions, insufficient stock) 409. Anything unmatched is a 500.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrInsufficientStock):
		status = http.StatusConflict
	}
	c.JSON(status, response.Error(status, err.Error()))
}

// currentUserID reads the authenticated user id set by the auth middleware
func currentUserID(c *gin.Context) string {
	userID, _ := c.Get("userID")
	id, _ := userID.(string)
	return id
}

func currentUserRole(c *gin.Context) string {
	role, _ := c.Get("userRole")
	r, _ := role.(string)
	return r
}
