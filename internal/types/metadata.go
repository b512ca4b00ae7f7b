package types

import (
	"fmt"
	"strconv"
	"time"
)

// Metadata keys read by the engine. Any other key is carried through untouched.
const (
	MetaProspectEmail      = "prospectEmail"
	MetaUnit               = "unit"
	MetaBuilding           = "building"
	MetaDueDate            = "dueDate"
	MetaFeeRequired        = "feeRequired"
	MetaPaymentReceived    = "paymentReceived"
	MetaRSVPCount          = "rsvpCount"
	MetaHasResponse        = "hasResponse"
	MetaHasResponded       = "hasResponded"
	MetaInterestLevel      = "interestLevel"
	MetaCancellationReason = "cancellationReason"
	MetaArchived           = "archived"
	MetaArchiveReason      = "archiveReason"
)

// Metadata is the open, type-specific bag of an event. Every accessor is tolerant:
// a missing key or a value of an unexpected type reads as absent.
type Metadata map[string]any

// Bool returns the truthiness of key. Non-empty strings other than "false"/"0" and
// non-zero numbers are truthy.
func (m Metadata) Bool(key string) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

// String returns key as a string, or "" if absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Int returns key as an int. JSON numbers decode as float64 and are truncated.
func (m Metadata) Int(key string) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

// Time parses key as RFC 3339 or a plain YYYY-MM-DD date in loc.
func (m Metadata) Time(key string, loc *time.Location) (time.Time, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, true
		}
		if ts, err := time.ParseInLocation(DateLayout, t, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Set stores value under key, allocating the map on first use.
func (m *Metadata) Set(key string, value any) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}

// Clone returns a shallow copy of the bag.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Layouts of Event.Date and Event.Time.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)
