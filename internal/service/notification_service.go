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

// Pusher delivers a payload to a connected user's live channel, if any
type Pusher interface {
	PushToUser(userID uuid.UUID, payload interface{})
}

// Mailer sends a single plain email
type Mailer interface {
	Send(to, subject, body string) error
}

type NotificationResponse struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Type           string          `json:"type"`
	RequestID      *string         `json:"request_id,omitempty"`
	Priority       string          `json:"priority"`
	ActionRequired bool            `json:"action_required"`
	IsRead         bool            `json:"is_read"`
	ReadAt         *time.Time      `json:"read_at,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	SenderName     string          `json:"sender_name,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

// NotificationService persists workflow notifications, fans them out to
// websocket clients, and escalates urgent ones to email.
type NotificationService interface {
	Notifier
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, limit int) ([]NotificationResponse, int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) error
}

type notificationService struct {
	notificationRepo repository.NotificationRepository
	userRepo         repository.UserRepository
	pusher           Pusher
	mailer           Mailer
}

func NewNotificationService(
	notificationRepo repository.NotificationRepository,
	userRepo repository.UserRepository,
	pusher Pusher,
	mailer Mailer,
) NotificationService {
	return &notificationService{
		notificationRepo: notificationRepo,
		userRepo:         userRepo,
		pusher:           pusher,
		mailer:           mailer,
	}
}

// Notify writes the notification row, then pushes it over the websocket hub
// and, for urgent priority, mails the recipient. The row is the source of
// truth; push and email failures are logged and swallowed.
func (s *notificationService) Notify(ctx context.Context, input NotificationInput) error {
	notification := &model.Notification{
		UserID:         input.UserID,
		Title:          input.Title,
		Message:        input.Message,
		Type:           input.Type,
		RequestID:      input.RequestID,
		Priority:       input.Priority,
		ActionRequired: input.ActionRequired,
		SenderName:     input.SenderName,
		SenderEmail:    input.SenderEmail,
	}
	if notification.Priority == "" {
		notification.Priority = model.PriorityMedium
	}
	if input.Data != nil {
		payload, err := json.Marshal(input.Data)
		if err != nil {
			return fmt.Errorf("failed to encode notification data: %w", err)
		}
		notification.Data = payload
	}

	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}

	if s.pusher != nil {
		s.pusher.PushToUser(input.UserID, map[string]interface{}{
			"event":        "notification",
			"notification": toNotificationResponse(notification),
		})
	}

	if notification.Priority == model.PriorityUrgent && s.mailer != nil {
		s.mailUrgent(ctx, notification)
	}

	return nil
}

func (s *notificationService) mailUrgent(ctx context.Context, notification *model.Notification) {
	recipient, err := s.userRepo.GetByID(ctx, notification.UserID)
	if err != nil {
		log.Printf("WARNING: cannot mail urgent notification, user %s not found: %v", notification.UserID, err)
		return
	}
	body := notification.Message
	if notification.RequestID != nil {
		body = fmt.Sprintf("%s\n\nRequest: %s", body, notification.RequestID)
	}
	if err := s.mailer.Send(recipient.Email, "[URGENT] "+notification.Title, body); err != nil {
		log.Printf("WARNING: failed to mail urgent notification to %s: %v", recipient.Email, err)
	}
}

func (s *notificationService) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page, limit int) ([]NotificationResponse, int64, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: invalid user id", ErrValidation)
	}

	notifications, total, err := s.notificationRepo.ListByUser(ctx, uid, unreadOnly, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	result := make([]NotificationResponse, 0, len(notifications))
	for i := range notifications {
		result = append(result, toNotificationResponse(&notifications[i]))
	}
	return result, total, nil
}

func (s *notificationService) CountUnread(ctx context.Context, userID string) (int64, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid user id", ErrValidation)
	}
	count, err := s.notificationRepo.CountUnread(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id, userID string) error {
	notifID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid notification id", ErrValidation)
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("%w: invalid user id", ErrValidation)
	}

	if err := s.notificationRepo.MarkRead(ctx, notifID, uid); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: notification %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("%w: invalid user id", ErrValidation)
	}
	if err := s.notificationRepo.MarkAllRead(ctx, uid); err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}

func toNotificationResponse(n *model.Notification) NotificationResponse {
	resp := NotificationResponse{
		ID:             n.ID.String(),
		Title:          n.Title,
		Message:        n.Message,
		Type:           n.Type,
		Priority:       n.Priority,
		ActionRequired: n.ActionRequired,
		IsRead:         n.IsRead,
		ReadAt:         n.ReadAt,
		Data:           json.RawMessage(n.Data),
		SenderName:     n.SenderName,
		CreatedAt:      n.CreatedAt.Format(time.RFC3339),
	}
	if n.RequestID != nil {
		id := n.RequestID.String()
		resp.RequestID = &id
	}
	return resp
}
