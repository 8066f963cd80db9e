package fiscal

import "github.com/CaioWing/Fiscus/internal/domain"

// MapStatus translates FDMS fiscal-day vocabulary into the local one. Unknown
// values pass through so newer network-side states are not rejected.
func MapStatus(remote string) domain.FiscalDayStatus {
	switch remote {
	case domain.FDMSFiscalDayOpened:
		return domain.FiscalDayOpen
	case domain.FDMSFiscalDayClosed, "":
		return domain.FiscalDayClosed
	default:
		return domain.FiscalDayStatus(remote)
	}
}

// Reconcile merges a status snapshot into a copy of d. Counters absent from the
// snapshot keep their cached values. Applying the same snapshot twice yields
// the same device as applying it once.
func Reconcile(d domain.Device, s domain.StatusSnapshot) domain.Device {
	d.FiscalDayStatus = MapStatus(s.FiscalDayStatus)

	if s.LastFiscalDayNo != nil {
		d.LastFiscalDayNo = *s.LastFiscalDayNo
	}
	if s.LastReceiptCounter != nil {
		d.LastReceiptCounter = *s.LastReceiptCounter
	}
	if s.LastReceiptGlobalNo != nil {
		d.LastReceiptGlobalNo = *s.LastReceiptGlobalNo
	}

	d.CurrentFiscalDayNo = currentDayNo(d.FiscalDayStatus, d.LastFiscalDayNo)
	return d
}

// ApplyTransition moves d into the target state of a successful mutating call
// when no fresh snapshot is available.
func ApplyTransition(d domain.Device, t Transition) domain.Device {
	switch to := t.To.(type) {
	case Open:
		d.FiscalDayStatus = domain.FiscalDayOpen
		d.LastFiscalDayNo = to.DayNo - 1
	case Closed:
		d.FiscalDayStatus = domain.FiscalDayClosed
		if to.LastDayNo > d.LastFiscalDayNo {
			d.LastFiscalDayNo = to.LastDayNo
		}
	}
	d.CurrentFiscalDayNo = currentDayNo(d.FiscalDayStatus, d.LastFiscalDayNo)
	return d
}

// GlobalNoRegressed reports whether the global receipt number went backwards.
func GlobalNoRegressed(before, after domain.Device) bool {
	return after.LastReceiptGlobalNo < before.LastReceiptGlobalNo
}

func currentDayNo(status domain.FiscalDayStatus, last int64) int64 {
	if status == domain.FiscalDayOpen {
		return last + 1
	}
	return last
}
