package domain

import "encoding/json"

// FDMS fiscal-day status vocabulary.
const (
	FDMSFiscalDayOpened         = "FiscalDayOpened"
	FDMSFiscalDayClosed         = "FiscalDayClosed"
	FDMSFiscalDayCloseInitiated = "FiscalDayCloseInitiated"
	FDMSFiscalDayCloseFailed    = "FiscalDayCloseFailed"
)

// StatusSnapshot is one status response from the fiscal network. Nil counters
// were absent from the response.
type StatusSnapshot struct {
	FiscalDayStatus     string                     `json:"fiscalDayStatus"`
	LastFiscalDayNo     *int64                     `json:"lastFiscalDayNo,omitempty"`
	LastReceiptCounter  *int64                     `json:"lastReceiptCounter,omitempty"`
	LastReceiptGlobalNo *int64                     `json:"lastReceiptGlobalNo,omitempty"`
	ServerDate          string                     `json:"serverDate,omitempty"`
	OperationID         string                     `json:"operationID,omitempty"`
	Extra               map[string]json.RawMessage `json:"-"`
}

var snapshotKnownKeys = map[string]bool{
	"fiscalDayStatus":     true,
	"lastFiscalDayNo":     true,
	"lastReceiptCounter":  true,
	"lastReceiptGlobalNo": true,
	"serverDate":          true,
	"operationID":         true,
}

func (s *StatusSnapshot) UnmarshalJSON(data []byte) error {
	type plain StatusSnapshot
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if snapshotKnownKeys[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}

	*s = StatusSnapshot(p)
	return nil
}

func (s StatusSnapshot) MarshalJSON() ([]byte, error) {
	type plain StatusSnapshot
	base, err := json.Marshal(plain(s))
	if err != nil || len(s.Extra) == 0 {
		return base, err
	}

	merged := make(map[string]json.RawMessage, len(s.Extra)+len(snapshotKnownKeys))
	for k, v := range s.Extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// FiscalDayEntry is one row of the reconstructed fiscal-day timeline.
type FiscalDayEntry struct {
	DayNo     int64  `json:"day_no"`
	Status    string `json:"status"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

const (
	FiscalDayEntryOpen   = "Open"
	FiscalDayEntryClosed = "Closed"
	FiscalDayActionOpen  = "Opened"
	FiscalDayActionClose = "Closed"
)
