package handler

import (
	"net/http"
	"time"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	requestService service.RequestService
}

func NewRequestHandler(requestService service.RequestService) *RequestHandler {
	return &RequestHandler{requestService: requestService}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyRole := middleware.RequireRole(model.RoleRequester, model.RoleDivisionChief, model.RoleAdmin)
	reviewers := middleware.RequireRole(model.RoleDivisionChief, model.RoleAdmin)
	adminOnly := middleware.RequireRole(model.RoleAdmin)

	requests := router.Group("/api/requests")
	{
		requests.POST("", anyRole, h.CreateRequest)
		requests.GET("", anyRole, h.ListRequests)
		requests.GET("/stats", reviewers, h.GetStats)
		requests.GET("/:id", anyRole, h.GetRequest)
		requests.GET("/:id/history", anyRole, h.GetHistory)
		requests.PUT("/:id/evaluate", reviewers, h.Evaluate)
		requests.PUT("/:id/approve", adminOnly, h.Approve)
		requests.PUT("/:id/ready", adminOnly, h.MarkReady)
		requests.PUT("/:id/receive", adminOnly, h.MarkReceived)
		requests.PUT("/:id/cancel", anyRole, h.Cancel)
	}
}

// CreateRequest files a new supply request
// @Summary      Create a supply request
// @Description  Files a request for one or more items on behalf of the caller
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateRequestInput  true  "Request payload"
// @Success      201      {object}  response.Response{data=service.RequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /requests [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var input service.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.CreateRequest(c.Request.Context(), currentUserID(c), input)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListRequests returns requests filtered by status, requester, or division
// @Summary      List supply requests
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        status        query  string  false  "Derived status filter"
// @Param        requester_id  query  string  false  "Requester filter"
// @Param        division_id   query  string  false  "Division filter"
// @Param        page          query  int     false  "Page number"
// @Param        limit         query  int     false  "Page size"
// @Success      200  {object}  response.Response{data=[]service.RequestResponse}
// @Router       /requests [get]
func (h *RequestHandler) ListRequests(c *gin.Context) {
	params := pagination.Parse(c)

	input := service.ListRequestsInput{
		Status:      c.Query("status"),
		RequesterID: c.Query("requester_id"),
		DivisionID:  c.Query("division_id"),
		Page:        params.Page,
		Limit:       params.Limit,
	}
	// Requesters only ever see their own requests
	if currentUserRole(c) == model.RoleRequester {
		input.RequesterID = currentUserID(c)
	}

	results, total, err := h.requestService.ListRequests(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, results, params.Page, params.Limit, total))
}

// GetRequest returns one request with its items and reviewer decisions
// @Summary      Get a supply request
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	result, err := h.requestService.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// GetHistory returns the audit timeline of one request
// @Summary      Get request history
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=[]service.TimelineEntry}
// @Router       /requests/{id}/history [get]
func (h *RequestHandler) GetHistory(c *gin.Context) {
	timeline, err := h.requestService.GetRequestHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, timeline))
}

// GetStats returns aggregate counts over an optional time window
// @Summary      Request statistics
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        division_id  query  string  false  "Division filter"
// @Param        from         query  string  false  "Window start (RFC3339)"
// @Param        to           query  string  false  "Window end (RFC3339)"
// @Success      200  {object}  response.Response{data=model.RequestStatsResponse}
// @Router       /requests/stats [get]
func (h *RequestHandler) GetStats(c *gin.Context) {
	input := service.StatsInput{DivisionID: c.Query("division_id")}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid 'from' timestamp, expected RFC3339"))
			return
		}
		input.From = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid 'to' timestamp, expected RFC3339"))
			return
		}
		input.To = &t
	}

	stats, err := h.requestService.GetRequestStats(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}

// Evaluate records the first-stage decision on a pending request
// @Summary      Evaluate a request
// @Description  Division chief approves or rejects a pending request
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                 true  "Request ID"
// @Param        payload  body      service.DecisionInput  true  "Decision"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      409      {object}  response.Response
// @Router       /requests/{id}/evaluate [put]
func (h *RequestHandler) Evaluate(c *gin.Context) {
	var input service.DecisionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.Evaluate(c.Request.Context(), c.Param("id"), currentUserID(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Approve records the admin decision; approval deducts stock atomically
// @Summary      Approve a request
// @Description  Admin approves or rejects an endorsed request. Approval deducts stock for every line or fails as a whole.
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                 true  "Request ID"
// @Param        payload  body      service.DecisionInput  true  "Decision"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      409      {object}  response.Response
// @Router       /requests/{id}/approve [put]
func (h *RequestHandler) Approve(c *gin.Context) {
	var input service.DecisionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.Approve(c.Request.Context(), c.Param("id"), currentUserID(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// MarkReady flags an approved request's items as staged for pickup
// @Summary      Mark ready for pickup
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      409  {object}  response.Response
// @Router       /requests/{id}/ready [put]
func (h *RequestHandler) MarkReady(c *gin.Context) {
	result, err := h.requestService.MarkReadyForPickup(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// MarkReceived closes out a request once the items change hands
// @Summary      Mark received
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                true  "Request ID"
// @Param        payload  body      service.ReceiveInput  true  "Receiver"
// @Success      200      {object}  response.Response{data=service.RequestResponse}
// @Failure      409      {object}  response.Response
// @Router       /requests/{id}/receive [put]
func (h *RequestHandler) MarkReceived(c *gin.Context) {
	var input service.ReceiveInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.requestService.MarkReceived(c.Request.Context(), c.Param("id"), currentUserID(c), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Cancel withdraws a request that has not yet passed admin approval
// @Summary      Cancel a request
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /requests/{id}/cancel [put]
func (h *RequestHandler) Cancel(c *gin.Context) {
	result, err := h.requestService.Cancel(c.Request.Context(), c.Param("id"), currentUserID(c), currentUserRole(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
