package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Notification type constants
const (
	NotifRequestCreated     = "request_created"
	NotifRequestApproved    = "request_approved"
	NotifRequestRejected    = "request_rejected"
	NotifRequestUnderReview = "request_under_review"
	NotifRequestReadyPickup = "request_ready_pickup"
	NotifRequestCompleted   = "request_completed"
	NotifUrgentRequest      = "urgent_request"
	NotifGeneral            = "general"
)

// Notification priority constants
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// NotificationPriority maps a notification type to its delivery priority.
// Urgent requests always push an urgent notification; purely informational
// transitions stay low.
func NotificationPriority(notifType string, isUrgent bool) string {
	if isUrgent {
		return PriorityUrgent
	}
	if notifType == NotifRequestUnderReview || notifType == NotifGeneral {
		return PriorityLow
	}
	return PriorityMedium
}

// Notification is one user-facing event record produced by the workflow
type Notification struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User           *User          `gorm:"foreignKey:UserID" json:"-"`
	Title          string         `gorm:"type:varchar(255);not null" json:"title"`
	Message        string         `gorm:"type:text;not null" json:"message"`
	Type           string         `gorm:"type:varchar(50);not null;index" json:"type"`
	RequestID      *uuid.UUID     `gorm:"type:uuid;index" json:"request_id"`
	IsRead         bool           `gorm:"default:false;index" json:"is_read"`
	ReadAt         *time.Time     `json:"read_at"`
	Priority       string         `gorm:"type:varchar(20);not null;default:'medium'" json:"priority"`
	ActionRequired bool           `gorm:"default:false" json:"action_required"`
	Data           datatypes.JSON `gorm:"type:jsonb" json:"data,omitempty"`
	SenderName     string         `gorm:"type:varchar(255)" json:"sender_name"`
	SenderEmail    string         `gorm:"type:varchar(255)" json:"sender_email"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
