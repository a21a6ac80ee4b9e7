package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage status values shared by the evaluator and admin review stages
const (
	StagePending  = "pending"
	StageApproved = "approved"
	StageRejected = "rejected"
)

// Derived request status values. These are never stored — see (*Request).Status().
const (
	StatusPending           = "pending"
	StatusEvaluatorApproved = "evaluator_approved"
	StatusAdminApproved     = "admin_approved"
	StatusFinalApproved     = "final_approved"
	StatusRejected          = "rejected"
	StatusCancelled         = "cancelled"
)

// AllStatuses lists every derived status, in lifecycle order
var AllStatuses = []string{
	StatusPending,
	StatusEvaluatorApproved,
	StatusAdminApproved,
	StatusFinalApproved,
	StatusRejected,
	StatusCancelled,
}

// Request is one supply-request workflow instance. The overall lifecycle stage
// is a pure function of the stage fields below and is never persisted.
type Request struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequesterID uuid.UUID  `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester   *User      `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	IsUrgent    bool       `gorm:"default:false" json:"is_urgent"`
	Remarks     string     `gorm:"type:text" json:"remarks"`
	NeededDate  *time.Time `json:"needed_date"`
	RequestDate *time.Time `json:"request_date"`

	EvaluatorID         *uuid.UUID `gorm:"type:uuid" json:"evaluator_id"`
	Evaluator           *User      `gorm:"foreignKey:EvaluatorID" json:"evaluator,omitempty"`
	EvaluatorStatus     string     `gorm:"type:varchar(20);not null;default:'pending'" json:"evaluator_status"`
	EvaluatorRemarks    string     `gorm:"type:text" json:"evaluator_remarks"`
	EvaluatorApprovedAt *time.Time `json:"evaluator_approved_at"` // write-once

	AdminID         *uuid.UUID `gorm:"type:uuid" json:"admin_id"`
	Admin           *User      `gorm:"foreignKey:AdminID" json:"admin,omitempty"`
	AdminStatus     string     `gorm:"type:varchar(20);not null;default:'pending'" json:"admin_status"`
	AdminRemarks    string     `gorm:"type:text" json:"admin_remarks"`
	AdminApprovedAt *time.Time `json:"admin_approved_at"` // write-once

	ReadyForPickup bool       `gorm:"default:false" json:"ready_for_pickup"`
	ReceivedBy     string     `gorm:"type:varchar(255)" json:"received_by"`
	IsDone         *time.Time `json:"is_done"`

	CancelledAt *time.Time `json:"cancelled_at"`
	CancelledBy *uuid.UUID `gorm:"type:uuid" json:"cancelled_by"`

	Items     []RequestItem `gorm:"foreignKey:RequestID" json:"items"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Status derives the overall lifecycle stage. Cancellation overrides
// everything; the rest follows a fixed precedence, first match wins.
func (r *Request) Status() string {
	switch {
	case r.CancelledAt != nil:
		return StatusCancelled
	case r.EvaluatorStatus == StageRejected || r.AdminStatus == StageRejected:
		return StatusRejected
	case r.EvaluatorStatus == StagePending:
		return StatusPending
	case r.EvaluatorStatus == StageApproved && r.AdminStatus == StagePending:
		return StatusEvaluatorApproved
	case r.AdminStatus == StageApproved && !r.ReadyForPickup:
		return StatusAdminApproved
	case r.ReadyForPickup:
		return StatusFinalApproved
	}
	return StatusPending
}

// IsTerminal reports whether the request can no longer change through the
// workflow: rejected, cancelled, or completed (received).
func (r *Request) IsTerminal() bool {
	if r.IsDone != nil {
		return true
	}
	s := r.Status()
	return s == StatusRejected || s == StatusCancelled
}

// RequestItem is one line (item + quantity) within a Request
type RequestItem struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"request_id"`
	ItemID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"item_id"`
	Item       *Item      `gorm:"foreignKey:ItemID" json:"item,omitempty"`
	Quantity   int        `gorm:"type:int;not null" json:"quantity"`
	Remarks    string     `gorm:"type:text" json:"remarks"`
	NeededDate *time.Time `json:"needed_date"`
}
