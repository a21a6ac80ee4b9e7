package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- DTOs ---

type RequestItemInput struct {
	ItemID     string     `json:"item_id" binding:"required"`
	Quantity   int        `json:"quantity" binding:"required,gt=0"`
	Remarks    string     `json:"remarks"`
	NeededDate *time.Time `json:"needed_date"`
}

type CreateRequestInput struct {
	Items      []RequestItemInput `json:"items" binding:"required,min=1,dive"`
	IsUrgent   bool               `json:"is_urgent"`
	Remarks    string             `json:"remarks"`
	NeededDate *time.Time         `json:"needed_date"`
}

type DecisionInput struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
	Remarks  string `json:"remarks"`
}

type ReceiveInput struct {
	ReceivedBy string `json:"received_by" binding:"required"`
}

type ListRequestsInput struct {
	Status      string
	RequesterID string
	DivisionID  string
	Page        int
	Limit       int
}

type StatsInput struct {
	DivisionID string
	From       *time.Time
	To         *time.Time
}

type RequestItemResponse struct {
	ID       string `json:"id"`
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
	Remarks  string `json:"remarks,omitempty"`
}

type StageResponse struct {
	ReviewerID   *string `json:"reviewer_id"`
	ReviewerName string  `json:"reviewer_name,omitempty"`
	Status       string  `json:"status"`
	Remarks      string  `json:"remarks,omitempty"`
	DecidedAt    *string `json:"decided_at"`
}

type RequestResponse struct {
	ID             string                `json:"id"`
	Status         string                `json:"status"`
	RequesterID    string                `json:"requester_id"`
	RequesterName  string                `json:"requester_name,omitempty"`
	IsUrgent       bool                  `json:"is_urgent"`
	Remarks        string                `json:"remarks,omitempty"`
	NeededDate     *time.Time            `json:"needed_date,omitempty"`
	RequestDate    *time.Time            `json:"request_date,omitempty"`
	Evaluator      StageResponse         `json:"evaluator"`
	Admin          StageResponse         `json:"admin"`
	ReadyForPickup bool                  `json:"ready_for_pickup"`
	ReceivedBy     string                `json:"received_by,omitempty"`
	IsDone         *time.Time            `json:"is_done,omitempty"`
	CancelledAt    *time.Time            `json:"cancelled_at,omitempty"`
	Items          []RequestItemResponse `json:"items"`
	CreatedAt      string                `json:"created_at"`
}

type TimelineEntry struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	ActorID   string          `json:"actor_id,omitempty"`
	ActorName string          `json:"actor_name,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// NotificationInput is one notification the workflow asks the sink to deliver
type NotificationInput struct {
	UserID         uuid.UUID
	Title          string
	Message        string
	Type           string
	RequestID      *uuid.UUID
	Priority       string
	ActionRequired bool
	Data           map[string]interface{}
	SenderName     string
	SenderEmail    string
}

// Notifier is the notification sink the workflow emits into. Delivery is
// best-effort: the engine logs failures and never rolls back a transition
// because of one.
type Notifier interface {
	Notify(ctx context.Context, input NotificationInput) error
}

// --- Interface ---

// RequestService owns the request lifecycle: creation, evaluator review,
// admin approval with stock deduction, pickup staging, receipt, and
// cancellation, plus the stats and timeline read models.
type RequestService interface {
	CreateRequest(ctx context.Context, requesterID string, input CreateRequestInput) (RequestResponse, error)
	Evaluate(ctx context.Context, id, evaluatorID string, input DecisionInput) (RequestResponse, error)
	Approve(ctx context.Context, id, adminID string, input DecisionInput) (RequestResponse, error)
	MarkReadyForPickup(ctx context.Context, id, actorID string) (RequestResponse, error)
	MarkReceived(ctx context.Context, id, actorID string, input ReceiveInput) (RequestResponse, error)
	Cancel(ctx context.Context, id, actorID, actorRole string) (RequestResponse, error)

	GetRequest(ctx context.Context, id string) (RequestResponse, error)
	ListRequests(ctx context.Context, input ListRequestsInput) ([]RequestResponse, int64, error)
	GetRequestStats(ctx context.Context, input StatsInput) (model.RequestStatsResponse, error)
	GetRequestHistory(ctx context.Context, id string) ([]TimelineEntry, error)
}

type requestService struct {
	requestRepo repository.RequestRepository
	itemRepo    repository.ItemRepository
	userRepo    repository.UserRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	notifier    Notifier
}

func NewRequestService(
	requestRepo repository.RequestRepository,
	itemRepo repository.ItemRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	notifier Notifier,
) RequestService {
	return &requestService{
		requestRepo: requestRepo,
		itemRepo:    itemRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		notifier:    notifier,
	}
}

// --- Transitions ---

func (s *requestService) CreateRequest(ctx context.Context, requesterID string, input CreateRequestInput) (RequestResponse, error) {
	uid, err := uuid.Parse(requesterID)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("%w: invalid requester id", ErrValidation)
	}

	requester, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("%w: requester %s", ErrNotFound, requesterID)
	}

	if len(input.Items) == 0 {
		return RequestResponse{}, fmt.Errorf("%w: a request needs at least one item", ErrValidation)
	}

	type line struct {
		itemID   uuid.UUID
		itemName string
		input    RequestItemInput
	}
	lines := make([]line, 0, len(input.Items))
	for _, itemInput := range input.Items {
		if itemInput.Quantity <= 0 {
			return RequestResponse{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
		itemID, parseErr := uuid.Parse(itemInput.ItemID)
		if parseErr != nil {
			return RequestResponse{}, fmt.Errorf("%w: invalid item id %q", ErrValidation, itemInput.ItemID)
		}
		lines = append(lines, line{itemID: itemID, input: itemInput})
	}

	now := time.Now()
	request := model.Request{
		RequesterID:     uid,
		IsUrgent:        input.IsUrgent,
		Remarks:         input.Remarks,
		NeededDate:      input.NeededDate,
		RequestDate:     &now,
		EvaluatorStatus: model.StagePending,
		AdminStatus:     model.StagePending,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		for i := range lines {
			item, findErr := s.itemRepo.FindByID(txCtx, lines[i].itemID)
			if findErr != nil {
				if errors.Is(findErr, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: item %s", ErrNotFound, lines[i].itemID)
				}
				return fmt.Errorf("failed to resolve item %s: %w", lines[i].itemID, findErr)
			}
			lines[i].itemName = item.Name
		}

		if createErr := s.requestRepo.Create(txCtx, &request); createErr != nil {
			return fmt.Errorf("failed to create request: %w", createErr)
		}

		auditItems := make([]map[string]interface{}, 0, len(lines))
		for _, l := range lines {
			requestItem := &model.RequestItem{
				RequestID:  request.ID,
				ItemID:     l.itemID,
				Quantity:   l.input.Quantity,
				Remarks:    l.input.Remarks,
				NeededDate: l.input.NeededDate,
			}
			if itemErr := s.requestRepo.CreateItem(txCtx, requestItem); itemErr != nil {
				return fmt.Errorf("failed to create request item: %w", itemErr)
			}
			auditItems = append(auditItems, map[string]interface{}{
				"item_id":   l.itemID.String(),
				"item_name": l.itemName,
				"quantity":  l.input.Quantity,
			})
		}

		return s.appendAudit(txCtx, &request.ID, &uid, model.ActionCreateRequest, requester.Name, map[string]interface{}{
			"is_urgent": input.IsUrgent,
			"remarks":   input.Remarks,
			"items":     auditItems,
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	reloaded, err := s.requestRepo.FindByID(ctx, request.ID)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("failed to reload request: %w", err)
	}

	// Notify the reviewers of the requester's division. Urgent requests go out
	// under the urgent_request type so the client can surface them separately.
	notifType := model.NotifRequestCreated
	title := "New supply request"
	if reloaded.IsUrgent {
		notifType = model.NotifUrgentRequest
		title = "Urgent supply request"
	}
	for _, chief := range s.reviewersFor(ctx, requester) {
		s.send(ctx, NotificationInput{
			UserID:         chief.ID,
			Title:          title,
			Message:        fmt.Sprintf("%s filed a request with %d item(s)", requester.Name, len(reloaded.Items)),
			Type:           notifType,
			RequestID:      &reloaded.ID,
			Priority:       model.NotificationPriority(notifType, reloaded.IsUrgent),
			ActionRequired: true,
			SenderName:     requester.Name,
			SenderEmail:    requester.Email,
		})
	}

	return toRequestResponse(reloaded), nil
}

func (s *requestService) Evaluate(ctx context.Context, id, evaluatorID string, input DecisionInput) (RequestResponse, error) {
	requestID, evaluator, err := s.resolveActor(ctx, id, evaluatorID)
	if err != nil {
		return RequestResponse{}, err
	}

	var request *model.Request
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		request, txErr = s.lockRequest(txCtx, requestID)
		if txErr != nil {
			return txErr
		}

		if st := request.Status(); st != model.StatusPending || request.IsTerminal() {
			return fmt.Errorf("%w: cannot evaluate a request in status %s", ErrInvalidTransition, st)
		}

		oldStatus := request.EvaluatorStatus
		request.EvaluatorID = &evaluator.ID
		request.EvaluatorStatus = stageFromDecision(input.Decision)
		request.EvaluatorRemarks = input.Remarks
		if request.EvaluatorApprovedAt == nil { // write-once
			now := time.Now()
			request.EvaluatorApprovedAt = &now
		}

		if updateErr := s.requestRepo.Update(txCtx, request); updateErr != nil {
			return fmt.Errorf("failed to update request: %w", updateErr)
		}

		return s.appendAudit(txCtx, &request.ID, &evaluator.ID, model.ActionEvaluate, evaluator.Name, map[string]interface{}{
			"field":   "evaluator_status",
			"old":     oldStatus,
			"new":     request.EvaluatorStatus,
			"remarks": input.Remarks,
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	if request.EvaluatorStatus == model.StageApproved {
		s.notifyRequester(ctx, request, evaluator, model.NotifRequestUnderReview,
			"Request endorsed",
			fmt.Sprintf("Your request was endorsed by %s and is awaiting admin approval", evaluator.Name), false)
		// Admins pick up the second stage
		admins, listErr := s.userRepo.ListByRole(ctx, model.RoleAdmin)
		if listErr != nil {
			log.Printf("WARNING: failed to list admins for request %s: %v", request.ID, listErr)
		}
		for _, admin := range admins {
			s.send(ctx, NotificationInput{
				UserID:         admin.ID,
				Title:          "Request awaiting approval",
				Message:        fmt.Sprintf("A request endorsed by %s needs admin approval", evaluator.Name),
				Type:           model.NotifRequestUnderReview,
				RequestID:      &request.ID,
				Priority:       model.NotificationPriority(model.NotifRequestUnderReview, request.IsUrgent),
				ActionRequired: true,
				SenderName:     evaluator.Name,
				SenderEmail:    evaluator.Email,
			})
		}
	} else {
		s.notifyRequester(ctx, request, evaluator, model.NotifRequestRejected,
			"Request rejected",
			rejectionMessage(evaluator.Name, input.Remarks), false)
	}

	return s.GetRequest(ctx, id)
}

func (s *requestService) Approve(ctx context.Context, id, adminID string, input DecisionInput) (RequestResponse, error) {
	requestID, admin, err := s.resolveActor(ctx, id, adminID)
	if err != nil {
		return RequestResponse{}, err
	}

	var request *model.Request
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		request, txErr = s.lockRequest(txCtx, requestID)
		if txErr != nil {
			return txErr
		}

		if st := request.Status(); st != model.StatusEvaluatorApproved || request.IsTerminal() {
			return fmt.Errorf("%w: cannot approve a request in status %s", ErrInvalidTransition, st)
		}

		oldStatus := request.AdminStatus
		request.AdminID = &admin.ID
		request.AdminStatus = stageFromDecision(input.Decision)
		request.AdminRemarks = input.Remarks
		if request.AdminApprovedAt == nil { // write-once
			now := time.Now()
			request.AdminApprovedAt = &now
		}

		if request.AdminStatus == model.StageApproved {
			if deductErr := s.deductStock(txCtx, request); deductErr != nil {
				return deductErr
			}
		}

		if updateErr := s.requestRepo.Update(txCtx, request); updateErr != nil {
			return fmt.Errorf("failed to update request: %w", updateErr)
		}

		return s.appendAudit(txCtx, &request.ID, &admin.ID, model.ActionApprove, admin.Name, map[string]interface{}{
			"field":   "admin_status",
			"old":     oldStatus,
			"new":     request.AdminStatus,
			"remarks": input.Remarks,
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	if request.AdminStatus == model.StageApproved {
		s.notifyRequester(ctx, request, admin, model.NotifRequestApproved,
			"Request approved",
			fmt.Sprintf("Your request was approved by %s; stock has been set aside", admin.Name), false)
	} else {
		s.notifyRequester(ctx, request, admin, model.NotifRequestRejected,
			"Request rejected",
			rejectionMessage(admin.Name, input.Remarks), false)
	}

	return s.GetRequest(ctx, id)
}

// deductStock takes each line's quantity off its item under a row lock.
// Any shortfall aborts the surrounding transaction; no item is left
// partially deducted.
func (s *requestService) deductStock(txCtx context.Context, request *model.Request) error {
	lines, err := s.requestRepo.ListItems(txCtx, request.ID)
	if err != nil {
		return fmt.Errorf("failed to load request items: %w", err)
	}

	for _, line := range lines {
		item, lockErr := s.itemRepo.FindByIDForUpdate(txCtx, line.ItemID)
		if lockErr != nil {
			if errors.Is(lockErr, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: item %s", ErrNotFound, line.ItemID)
			}
			return fmt.Errorf("failed to lock item %s: %w", line.ItemID, lockErr)
		}

		if item.QuantityOnHand < line.Quantity {
			return &InsufficientStockError{
				ItemID:    item.ID,
				ItemName:  item.Name,
				Requested: line.Quantity,
				Available: item.QuantityOnHand,
			}
		}

		stockAfter := item.QuantityOnHand - line.Quantity
		if updateErr := s.itemRepo.UpdateStock(txCtx, item.ID, stockAfter); updateErr != nil {
			return fmt.Errorf("failed to update stock for %s: %w", item.Name, updateErr)
		}

		movement := &model.StockMovement{
			ItemID:          item.ID,
			RequestID:       &request.ID,
			MovementType:    model.MovementOut,
			QuantityChanged: -line.Quantity,
			StockAfter:      stockAfter,
		}
		if mvErr := s.itemRepo.CreateMovement(txCtx, movement); mvErr != nil {
			return fmt.Errorf("failed to record stock movement: %w", mvErr)
		}
	}

	return nil
}

func (s *requestService) MarkReadyForPickup(ctx context.Context, id, actorID string) (RequestResponse, error) {
	requestID, actor, err := s.resolveActor(ctx, id, actorID)
	if err != nil {
		return RequestResponse{}, err
	}

	var request *model.Request
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		request, txErr = s.lockRequest(txCtx, requestID)
		if txErr != nil {
			return txErr
		}

		if st := request.Status(); st != model.StatusAdminApproved || request.IsTerminal() {
			return fmt.Errorf("%w: cannot stage a request in status %s for pickup", ErrInvalidTransition, st)
		}

		request.ReadyForPickup = true
		if updateErr := s.requestRepo.Update(txCtx, request); updateErr != nil {
			return fmt.Errorf("failed to update request: %w", updateErr)
		}

		return s.appendAudit(txCtx, &request.ID, &actor.ID, model.ActionMarkReady, actor.Name, map[string]interface{}{
			"field": "ready_for_pickup",
			"old":   false,
			"new":   true,
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	s.notifyRequester(ctx, request, actor, model.NotifRequestReadyPickup,
		"Ready for pickup",
		"Your requested items are staged and ready for pickup", true)

	return s.GetRequest(ctx, id)
}

func (s *requestService) MarkReceived(ctx context.Context, id, actorID string, input ReceiveInput) (RequestResponse, error) {
	if input.ReceivedBy == "" {
		return RequestResponse{}, fmt.Errorf("%w: received_by is required", ErrValidation)
	}

	requestID, actor, err := s.resolveActor(ctx, id, actorID)
	if err != nil {
		return RequestResponse{}, err
	}

	var request *model.Request
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		request, txErr = s.lockRequest(txCtx, requestID)
		if txErr != nil {
			return txErr
		}

		if request.IsDone != nil || !request.ReadyForPickup || request.IsTerminal() {
			return fmt.Errorf("%w: request is not awaiting receipt", ErrInvalidTransition)
		}

		now := time.Now()
		request.ReceivedBy = input.ReceivedBy
		request.IsDone = &now

		if updateErr := s.requestRepo.Update(txCtx, request); updateErr != nil {
			return fmt.Errorf("failed to update request: %w", updateErr)
		}

		return s.appendAudit(txCtx, &request.ID, &actor.ID, model.ActionMarkReceived, actor.Name, map[string]interface{}{
			"field": "received_by",
			"old":   "",
			"new":   input.ReceivedBy,
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	s.notifyRequester(ctx, request, actor, model.NotifRequestCompleted,
		"Request completed",
		fmt.Sprintf("Your request was received by %s", input.ReceivedBy), false)

	return s.GetRequest(ctx, id)
}

func (s *requestService) Cancel(ctx context.Context, id, actorID, actorRole string) (RequestResponse, error) {
	requestID, actor, err := s.resolveActor(ctx, id, actorID)
	if err != nil {
		return RequestResponse{}, err
	}

	var request *model.Request
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		request, txErr = s.lockRequest(txCtx, requestID)
		if txErr != nil {
			return txErr
		}

		st := request.Status()
		if st != model.StatusPending && st != model.StatusEvaluatorApproved {
			return fmt.Errorf("%w: cannot cancel a request in status %s", ErrInvalidTransition, st)
		}
		// Once an admin has approved, the request can only be rejected by an
		// approver, not withdrawn. Requesters may withdraw their own requests;
		// admins may withdraw any.
		if actorRole != model.RoleAdmin && request.RequesterID != actor.ID {
			return fmt.Errorf("%w: only the requester may cancel this request", ErrForbidden)
		}

		now := time.Now()
		request.CancelledAt = &now
		request.CancelledBy = &actor.ID

		if updateErr := s.requestRepo.Update(txCtx, request); updateErr != nil {
			return fmt.Errorf("failed to update request: %w", updateErr)
		}

		return s.appendAudit(txCtx, &request.ID, &actor.ID, model.ActionCancelRequest, actor.Name, map[string]interface{}{
			"field": "cancelled_at",
			"old":   nil,
			"new":   now,
		})
	})
	if err != nil {
		return RequestResponse{}, err
	}

	// Reviewers who may have the request in their queue should hear about it
	requester, getErr := s.userRepo.GetByID(ctx, request.RequesterID)
	if getErr == nil {
		for _, chief := range s.reviewersFor(ctx, requester) {
			s.send(ctx, NotificationInput{
				UserID:     chief.ID,
				Title:      "Request cancelled",
				Message:    fmt.Sprintf("%s withdrew a pending request", actor.Name),
				Type:       model.NotifGeneral,
				RequestID:  &request.ID,
				Priority:   model.NotificationPriority(model.NotifGeneral, false),
				SenderName: actor.Name,
			})
		}
	}

	return s.GetRequest(ctx, id)
}

// --- Read models ---

func (s *requestService) GetRequest(ctx context.Context, id string) (RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, fmt.Errorf("%w: invalid request id", ErrValidation)
	}

	request, err := s.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RequestResponse{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return RequestResponse{}, fmt.Errorf("failed to load request: %w", err)
	}

	return toRequestResponse(request), nil
}

func (s *requestService) ListRequests(ctx context.Context, input ListRequestsInput) ([]RequestResponse, int64, error) {
	if input.Status != "" && !validStatus(input.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, input.Status)
	}

	filter := repository.RequestFilter{
		Status: input.Status,
		Page:   input.Page,
		Limit:  input.Limit,
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if input.RequesterID != "" {
		uid, err := uuid.Parse(input.RequesterID)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: invalid requester id", ErrValidation)
		}
		filter.RequesterID = &uid
	}
	if input.DivisionID != "" {
		did, err := uuid.Parse(input.DivisionID)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: invalid division id", ErrValidation)
		}
		filter.DivisionID = &did
	}

	requests, total, err := s.requestRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}

	result := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		result = append(result, toRequestResponse(&requests[i]))
	}

	return result, total, nil
}

func (s *requestService) GetRequestStats(ctx context.Context, input StatsInput) (model.RequestStatsResponse, error) {
	filter := repository.StatsFilter{From: input.From, To: input.To}
	if input.DivisionID != "" {
		did, err := uuid.Parse(input.DivisionID)
		if err != nil {
			return model.RequestStatsResponse{}, fmt.Errorf("%w: invalid division id", ErrValidation)
		}
		filter.DivisionID = &did
	}

	requests, err := s.requestRepo.ListStageFields(ctx, filter)
	if err != nil {
		return model.RequestStatsResponse{}, fmt.Errorf("failed to load stats window: %w", err)
	}

	stats := model.RequestStatsResponse{
		ByStatus:           make(map[string]int64, len(model.AllStatuses)),
		TimeRangeStartDate: input.From,
		TimeRangeEndDate:   input.To,
	}
	for _, status := range model.AllStatuses {
		stats.ByStatus[status] = 0
	}
	for i := range requests {
		r := &requests[i]
		stats.Total++
		stats.ByStatus[r.Status()]++
		if r.IsUrgent && !r.IsTerminal() {
			stats.UrgentOpen++
		}
	}

	value, err := s.requestRepo.ReleasedValue(ctx, filter)
	if err != nil {
		return model.RequestStatsResponse{}, fmt.Errorf("failed to total released value: %w", err)
	}
	stats.ApprovedValue = value

	return stats, nil
}

func (s *requestService) GetRequestHistory(ctx context.Context, id string) ([]TimelineEntry, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid request id", ErrValidation)
	}

	if _, err := s.requestRepo.FindByID(ctx, requestID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	logs, err := s.auditRepo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request history: %w", err)
	}

	timeline := make([]TimelineEntry, 0, len(logs))
	for _, entry := range logs {
		te := TimelineEntry{
			ID:        entry.ID.String(),
			Action:    entry.Action,
			Details:   json.RawMessage(entry.Details),
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		}
		if entry.UserID != nil {
			te.ActorID = entry.UserID.String()
		}
		if entry.User != nil {
			te.ActorName = entry.User.Name
		} else if entry.EntityName != "" {
			te.ActorName = entry.EntityName
		}
		timeline = append(timeline, te)
	}

	return timeline, nil
}

// --- Helpers ---

// resolveActor parses ids and loads the acting user
func (s *requestService) resolveActor(ctx context.Context, id, actorID string) (uuid.UUID, *model.User, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: invalid request id", ErrValidation)
	}
	uid, err := uuid.Parse(actorID)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: invalid user id", ErrValidation)
	}
	actor, err := s.userRepo.GetByID(ctx, uid)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("%w: user %s", ErrNotFound, actorID)
	}
	return requestID, actor, nil
}

// lockRequest loads the request row FOR UPDATE inside the current transaction
func (s *requestService) lockRequest(txCtx context.Context, id uuid.UUID) (*model.Request, error) {
	request, err := s.requestRepo.FindByIDForUpdate(txCtx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	return request, nil
}

func (s *requestService) appendAudit(txCtx context.Context, requestID, userID *uuid.UUID, action, actorName string, details map[string]interface{}) error {
	payload, _ := json.Marshal(details)
	entry := &model.AuditLog{
		RequestID:  requestID,
		UserID:     userID,
		Action:     action,
		EntityName: actorName,
		Details:    payload,
	}
	if requestID != nil {
		entry.EntityID = requestID.String()
	}
	if err := s.auditRepo.Log(txCtx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// reviewersFor returns the division chiefs screening the requester's
// requests, falling back to all chiefs when the requester has no division.
func (s *requestService) reviewersFor(ctx context.Context, requester *model.User) []model.User {
	var (
		chiefs []model.User
		err    error
	)
	if requester.DivisionID != nil {
		chiefs, err = s.userRepo.ListChiefsOfDivision(ctx, *requester.DivisionID)
	} else {
		chiefs, err = s.userRepo.ListByRole(ctx, model.RoleDivisionChief)
	}
	if err != nil {
		log.Printf("WARNING: failed to resolve reviewers for user %s: %v", requester.ID, err)
		return nil
	}
	return chiefs
}

// notifyRequester emits the single requester-facing notification a transition owes
func (s *requestService) notifyRequester(ctx context.Context, request *model.Request, actor *model.User, notifType, title, message string, actionRequired bool) {
	s.send(ctx, NotificationInput{
		UserID:         request.RequesterID,
		Title:          title,
		Message:        message,
		Type:           notifType,
		RequestID:      &request.ID,
		Priority:       model.NotificationPriority(notifType, request.IsUrgent),
		ActionRequired: actionRequired,
		SenderName:     actor.Name,
		SenderEmail:    actor.Email,
	})
}

// send delivers best-effort: a broken sink never unwinds a committed transition
func (s *requestService) send(ctx context.Context, input NotificationInput) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, input); err != nil {
		log.Printf("WARNING: failed to deliver %s notification for request %v: %v", input.Type, input.RequestID, err)
	}
}

func stageFromDecision(decision string) string {
	if decision == "approve" {
		return model.StageApproved
	}
	return model.StageRejected
}

func rejectionMessage(reviewerName, remarks string) string {
	if remarks == "" {
		return fmt.Sprintf("Your request was rejected by %s", reviewerName)
	}
	return fmt.Sprintf("Your request was rejected by %s: %s", reviewerName, remarks)
}

func validStatus(status string) bool {
	for _, s := range model.AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func toRequestResponse(r *model.Request) RequestResponse {
	resp := RequestResponse{
		ID:             r.ID.String(),
		Status:         r.Status(),
		RequesterID:    r.RequesterID.String(),
		IsUrgent:       r.IsUrgent,
		Remarks:        r.Remarks,
		NeededDate:     r.NeededDate,
		RequestDate:    r.RequestDate,
		ReadyForPickup: r.ReadyForPickup,
		ReceivedBy:     r.ReceivedBy,
		IsDone:         r.IsDone,
		CancelledAt:    r.CancelledAt,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		Evaluator: StageResponse{
			Status:    r.EvaluatorStatus,
			Remarks:   r.EvaluatorRemarks,
			DecidedAt: formatTimePtr(r.EvaluatorApprovedAt),
		},
		Admin: StageResponse{
			Status:    r.AdminStatus,
			Remarks:   r.AdminRemarks,
			DecidedAt: formatTimePtr(r.AdminApprovedAt),
		},
	}

	if r.Requester != nil {
		resp.RequesterName = r.Requester.Name
	}
	if r.EvaluatorID != nil {
		id := r.EvaluatorID.String()
		resp.Evaluator.ReviewerID = &id
	}
	if r.Evaluator != nil {
		resp.Evaluator.ReviewerName = r.Evaluator.Name
	}
	if r.AdminID != nil {
		id := r.AdminID.String()
		resp.Admin.ReviewerID = &id
	}
	if r.Admin != nil {
		resp.Admin.ReviewerName = r.Admin.Name
	}

	resp.Items = make([]RequestItemResponse, 0, len(r.Items))
	for _, line := range r.Items {
		item := RequestItemResponse{
			ID:       line.ID.String(),
			ItemID:   line.ItemID.String(),
			Quantity: line.Quantity,
			Remarks:  line.Remarks,
		}
		if line.Item != nil {
			item.ItemName = line.Item.Name
		}
		resp.Items = append(resp.Items, item)
	}

	return resp
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
