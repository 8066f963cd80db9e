package fiscal

import (
	"time"

	"github.com/CaioWing/Fiscus/internal/domain"
)

// MaxClosedDays bounds how many closed days the timeline reconstructs.
const MaxClosedDays = 30

// BuildTimeline reconstructs the recent fiscal days from a single snapshot,
// most recent first. FDMS does not expose historical open/close times, so
// closed entries carry an empty timestamp.
func BuildTimeline(s domain.StatusSnapshot, now time.Time) []domain.FiscalDayEntry {
	var last int64
	if s.LastFiscalDayNo != nil {
		last = *s.LastFiscalDayNo
	}

	entries := make([]domain.FiscalDayEntry, 0, MaxClosedDays+1)

	if MapStatus(s.FiscalDayStatus) == domain.FiscalDayOpen {
		ts := s.ServerDate
		if ts == "" {
			ts = now.Format(time.RFC3339)
		}
		entries = append(entries, domain.FiscalDayEntry{
			DayNo:     last + 1,
			Status:    domain.FiscalDayEntryOpen,
			Action:    domain.FiscalDayActionOpen,
			Timestamp: ts,
		})
	}

	oldest := max(1, last-(MaxClosedDays-1))
	for day := last; day >= oldest; day-- {
		entries = append(entries, domain.FiscalDayEntry{
			DayNo:  day,
			Status: domain.FiscalDayEntryClosed,
			Action: domain.FiscalDayActionClose,
		})
	}
	return entries
}

// SnapshotOf rebuilds a snapshot from cached device state, used when the
// network cannot be reached.
func SnapshotOf(d *domain.Device) domain.StatusSnapshot {
	last := d.LastFiscalDayNo
	counter := d.LastReceiptCounter
	global := d.LastReceiptGlobalNo

	var status string
	switch d.FiscalDayStatus {
	case domain.FiscalDayOpen:
		status = domain.FDMSFiscalDayOpened
	case domain.FiscalDayClosed, domain.FiscalDayUnregistered:
		status = domain.FDMSFiscalDayClosed
	default:
		status = string(d.FiscalDayStatus)
	}

	return domain.StatusSnapshot{
		FiscalDayStatus:     status,
		LastFiscalDayNo:     &last,
		LastReceiptCounter:  &counter,
		LastReceiptGlobalNo: &global,
	}
}
