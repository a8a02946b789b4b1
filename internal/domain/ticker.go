package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Ticker is an opaque, case-sensitive identifier for an equity symbol or a
// cash pseudo-ticker of the form "CUR:<ISO4217>".
type Ticker string

// CashPrefix precedes the ISO-4217 currency code in a cash pseudo-ticker.
const CashPrefix = "CUR:"

// IsCash reports whether t is a cash pseudo-ticker.
func (t Ticker) IsCash() bool {
	return strings.HasPrefix(string(t), CashPrefix)
}

// Currency returns the ISO-4217 code of a cash pseudo-ticker, or "" if t is
// not a cash ticker.
func (t Ticker) Currency() string {
	if !t.IsCash() {
		return ""
	}
	return strings.TrimPrefix(string(t), CashPrefix)
}

func (t Ticker) String() string { return string(t) }

// Month identifies a calendar month-end date. Only the year/month of the
// embedded time.Time are meaningful; the day is always normalized to the
// last day of the month in UTC.
type Month time.Time

// NewMonth normalizes (y, m) to a month-end Month.
func NewMonth(year int, month time.Month) Month {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	return Month(firstOfNext.AddDate(0, 0, -1))
}

// MonthOf normalizes t to the month-end of the month containing it.
func MonthOf(t time.Time) Month {
	return NewMonth(t.Year(), t.Month())
}

func (m Month) Time() time.Time { return time.Time(m) }

func (m Month) Before(other Month) bool { return m.Time().Before(other.Time()) }
func (m Month) After(other Month) bool  { return m.Time().After(other.Time()) }
func (m Month) Equal(other Month) bool  { return m.Time().Equal(other.Time()) }

// Next returns the month-end of the calendar month following m.
func (m Month) Next() Month {
	t := m.Time()
	return NewMonth(t.Year(), t.Month()+1)
}

func (m Month) String() string { return m.Time().Format("2006-01-02") }

// MarshalJSON renders Month as its date string rather than time.Time's
// struct representation (Month's underlying type does not inherit
// time.Time's own MarshalJSON, since defined types carry no methods from
// their underlying type).
func (m Month) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON parses the date string produced by MarshalJSON.
func (m *Month) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("domain: parse month %q: %w", s, err)
	}
	*m = Month(t)
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder so Month round-trips
// through the cache the same way it round-trips through JSON.
func (m Month) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(m.String())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (m *Month) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("domain: decode month %q: %w", s, err)
	}
	*m = Month(t)
	return nil
}

// DateRange is an inclusive [Start, End] range of month-end dates.
type DateRange struct {
	Start Month
	End   Month
}

// Valid reports whether the range is well formed (Start <= End).
func (r DateRange) Valid() bool {
	return !r.Start.After(r.End)
}

// Months enumerates every month-end in [Start, End] ascending.
func (r DateRange) Months() []Month {
	if !r.Valid() {
		return nil
	}
	var months []Month
	for m := r.Start; !m.After(r.End); m = m.Next() {
		months = append(months, m)
	}
	return months
}
