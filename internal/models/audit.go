package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	AuditUserFlagged     = "user_flagged"
	AuditWithdrawApprove = "withdraw_approved"
	AuditWithdrawReject  = "withdraw_rejected"
	AuditAdRevenueSynced = "ad_revenue_synced"
)

// AuditLog is an append-only record of an admin action
type AuditLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Action    string    `json:"action" db:"action"`
	TargetUID string    `json:"target_uid" db:"target_uid"`
	AdminUID  string    `json:"admin_uid" db:"admin_uid"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
