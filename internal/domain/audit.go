package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

type AuditAction string

const (
	AuditActionRegister AuditAction = "fdms.register"
	AuditActionStatus   AuditAction = "fdms.status"
	AuditActionPing     AuditAction = "fdms.ping"
	AuditActionConfig   AuditAction = "fdms.config"
	AuditActionOpenDay  AuditAction = "fdms.open_day"
	AuditActionCloseDay AuditAction = "fdms.close_day"

	AuditActionDeviceCreate      AuditAction = "device.create"
	AuditActionDeviceUpdate      AuditAction = "device.update"
	AuditActionDeviceCertificate AuditAction = "device.upload_certificate"
	AuditActionDeviceArchive     AuditAction = "device.archive"
)

// Mutating reports whether the action changes the device's fiscal-day lifecycle.
func (a AuditAction) Mutating() bool {
	switch a {
	case AuditActionRegister, AuditActionOpenDay, AuditActionCloseDay:
		return true
	}
	return false
}

const ResourceFiscalDevice = "fiscal_device"

type AuditEntry struct {
	ID                uuid.UUID      `json:"id"`
	Actor             string         `json:"actor"`
	ActorType         string         `json:"actor_type"` // management, system
	Action            AuditAction    `json:"action"`
	ResourceType      string         `json:"resource_type"`
	ResourceReference string         `json:"resource_reference"`
	ChangesSummary    string         `json:"changes_summary"`
	Status            AuditStatus    `json:"status"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
	IPAddress         string         `json:"ip_address,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Actor identifies who triggered an action.
type Actor struct {
	ID        string
	Type      string
	IPAddress string
}

func SystemActor(name string) Actor {
	return Actor{ID: "system:" + name, Type: "system"}
}

type AuditFilter struct {
	Actor             *string
	Action            *string
	ResourceType      *string
	ResourceReference *string
	Status            *AuditStatus
	Page              int
	PerPage           int
	SortOrder         string
}

type AuditRepository interface {
	Create(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]*AuditEntry, int, error)
}
