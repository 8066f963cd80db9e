package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActionEvent is emitted after every attempted fiscal action, successful or not.
type ActionEvent struct {
	DeviceID            uuid.UUID       `json:"device_id"`
	CompanyID           uuid.UUID       `json:"company_id"`
	FiscalDeviceID      string          `json:"fiscal_device_id"`
	Action              AuditAction     `json:"action"`
	Status              AuditStatus     `json:"status"`
	ErrorCode           string          `json:"error_code,omitempty"`
	ErrorKind           string          `json:"error_kind,omitempty"`
	FiscalDayStatus     FiscalDayStatus `json:"fiscal_day_status"`
	LastFiscalDayNo     int64           `json:"last_fiscal_day_no"`
	LastReceiptGlobalNo int64           `json:"last_receipt_global_no"`
	Duration            time.Duration   `json:"-"`
	DurationMS          int64           `json:"duration_ms"`
	OccurredAt          time.Time       `json:"occurred_at"`
}
