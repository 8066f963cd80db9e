package fiscal

import (
	"fmt"

	"github.com/CaioWing/Fiscus/internal/domain"
)

// State is the lifecycle position of a device. The concrete types are
// Unregistered, Closed, Open and Transitional.
type State interface {
	Status() domain.FiscalDayStatus
	isState()
}

type Unregistered struct{}

type Closed struct {
	LastDayNo int64
}

type Open struct {
	DayNo int64
}

// Transitional wraps an FDMS status this system has no local name for, such as
// FiscalDayCloseInitiated.
type Transitional struct {
	Raw       string
	LastDayNo int64
}

func (Unregistered) Status() domain.FiscalDayStatus { return domain.FiscalDayUnregistered }
func (Closed) Status() domain.FiscalDayStatus { return domain.FiscalDayClosed }
func (Open) Status() domain.FiscalDayStatus { return domain.FiscalDayOpen }
func (t Transitional) Status() domain.FiscalDayStatus { return domain.FiscalDayStatus(t.Raw) }

func (Unregistered) isState() {}
func (Closed) isState() {}
func (Open) isState() {}
func (Transitional) isState() {}

// RemoteCall names the gateway operation a transition issues.
type RemoteCall string

const (
	CallRegister RemoteCall = "register"
	CallStatus   RemoteCall = "status"
	CallPing     RemoteCall = "ping"
	CallConfig   RemoteCall = "config"
	CallOpenDay  RemoteCall = "open-day"
	CallCloseDay RemoteCall = "close-day"
)

// Transition is the effect list of one action: the call to issue, the audit
// action to record, and the state to move to if the call succeeds.
type Transition struct {
	From     State
	To       State
	Call     RemoteCall
	Audit    domain.AuditAction
	Mutating bool
}

func (Unregistered) Register() Transition {
	return Transition{
		From:     Unregistered{},
		To:       Closed{},
		Call:     CallRegister,
		Audit:    domain.AuditActionRegister,
		Mutating: true,
	}
}

func (c Closed) OpenDay() Transition {
	return Transition{
		From:     c,
		To:       Open{DayNo: c.LastDayNo + 1},
		Call:     CallOpenDay,
		Audit:    domain.AuditActionOpenDay,
		Mutating: true,
	}
}

func (o Open) CloseDay() Transition {
	return Transition{
		From:     o,
		To:       Closed{LastDayNo: o.DayNo},
		Call:     CallCloseDay,
		Audit:    domain.AuditActionCloseDay,
		Mutating: true,
	}
}

// RetryClose re-issues close-day after FDMS reported FiscalDayCloseFailed.
func (t Transitional) RetryClose() (Transition, bool) {
	if t.Raw != domain.FDMSFiscalDayCloseFailed {
		return Transition{}, false
	}
	return Transition{
		From:     t,
		To:       Closed{LastDayNo: t.LastDayNo + 1},
		Call:     CallCloseDay,
		Audit:    domain.AuditActionCloseDay,
		Mutating: true,
	}, true
}

// StateOf derives the state variant from a cached device record.
func StateOf(d *domain.Device) State {
	switch d.FiscalDayStatus {
	case domain.FiscalDayUnregistered, "":
		return Unregistered{}
	case domain.FiscalDayClosed:
		return Closed{LastDayNo: d.LastFiscalDayNo}
	case domain.FiscalDayOpen:
		return Open{DayNo: d.LastFiscalDayNo + 1}
	default:
		return Transitional{Raw: string(d.FiscalDayStatus), LastDayNo: d.LastFiscalDayNo}
	}
}

// Plan returns the transition for action from state s, or an error wrapping
// domain.ErrPreconditionFailed when the action is not legal there.
func Plan(action domain.AuditAction, s State) (Transition, error) {
	switch action {
	case domain.AuditActionRegister:
		if u, ok := s.(Unregistered); ok {
			return u.Register(), nil
		}
		return Transition{}, illegal(action, s, "device is already registered")

	case domain.AuditActionOpenDay:
		if c, ok := s.(Closed); ok {
			return c.OpenDay(), nil
		}
		return Transition{}, illegal(action, s, "fiscal day must be closed")

	case domain.AuditActionCloseDay:
		switch st := s.(type) {
		case Open:
			return st.CloseDay(), nil
		case Transitional:
			if t, ok := st.RetryClose(); ok {
				return t, nil
			}
		}
		return Transition{}, illegal(action, s, "fiscal day must be open")

	case domain.AuditActionStatus, domain.AuditActionConfig:
		if _, ok := s.(Unregistered); ok {
			return Transition{}, illegal(action, s, "device is not registered")
		}
		return readOnly(action, s), nil

	case domain.AuditActionPing:
		return readOnly(action, s), nil
	}
	return Transition{}, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, action)
}

func readOnly(action domain.AuditAction, s State) Transition {
	calls := map[domain.AuditAction]RemoteCall{
		domain.AuditActionStatus: CallStatus,
		domain.AuditActionPing:   CallPing,
		domain.AuditActionConfig: CallConfig,
	}
	return Transition{From: s, To: s, Call: calls[action], Audit: action}
}

func illegal(action domain.AuditAction, s State, reason string) error {
	return fmt.Errorf("%w: %s in state %q: %s", domain.ErrPreconditionFailed, action, s.Status(), reason)
}
