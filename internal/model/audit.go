package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ActionCreateRequest  = "CREATE_REQUEST"
	ActionEvaluate       = "EVALUATE_REQUEST"
	ActionApprove        = "APPROVE_REQUEST"
	ActionMarkReady      = "MARK_READY_FOR_PICKUP"
	ActionMarkReceived   = "MARK_RECEIVED"
	ActionCancelRequest  = "CANCEL_REQUEST"
	ActionCreateItem     = "CREATE_ITEM"
	ActionUpdateItem     = "UPDATE_ITEM"
	ActionDeleteItem     = "DELETE_ITEM"
	ActionAdjustStock    = "ADJUST_STOCK"
	ActionCreateDivision = "CREATE_DIVISION"
	ActionUpdateDivision = "UPDATE_DIVISION"
	ActionDeleteDivision = "DELETE_DIVISION"
)

// AuditLog tracks Who, What, and When for every workflow mutation. Rows keyed
// by RequestID form the request's transition timeline; the log is append-only.
type AuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID  *uuid.UUID     `gorm:"type:uuid;index" json:"request_id"`
	UserID     *uuid.UUID     `gorm:"type:uuid;index" json:"user_id"` // nil if automated
	User       *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Action     string         `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string         `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string         `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    datatypes.JSON `gorm:"type:jsonb" json:"details"` // field changes, old/new values
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}
