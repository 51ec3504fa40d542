package protocol

import (
	"errors"
	"time"
)

// Reading is one decoded serial line split into its ordered fields.
type Reading struct {
	Raw    string
	Fields []string
}

// Empty reports whether the line carries no reading (first field empty).
// A read timeout produces an empty reading.
func (r Reading) Empty() bool {
	return len(r.Fields) == 0 || r.Fields[0] == ""
}

// Event is one logged reading. Byte0..Act and DateTime map to the six
// children of an EVENT element; the remaining fields only travel with the
// published copies.
type Event struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Byte0      string    `json:"byte0"`
	Byte1      string    `json:"byte1"`
	Byte2      string    `json:"byte2"`
	Byte3      string    `json:"byte3"`
	Act        string    `json:"act"`
	DateTime   string    `json:"datetime"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Values returns the element texts in document order.
func (e *Event) Values() []string {
	return []string{e.Byte0, e.Byte1, e.Byte2, e.Byte3, e.Act, e.DateTime}
}

// ParseResult is the outcome of parsing one raw line.
type ParseResult struct {
	Success bool
	Skipped bool
	Reading Reading
	Data    *Event
	Error   error
}

// Line format
const (
	Delimiter  = ":"
	FieldCount = 5

	DateLayout = "02/01/2006"
	TimeLayout = "15:04:05"
)

// History document element names
const (
	ElementEvent    = "EVENT"
	ElementByte0    = "BYTE0"
	ElementByte1    = "BYTE1"
	ElementByte2    = "BYTE2"
	ElementByte3    = "BYTE3"
	ElementAct      = "ACT"
	ElementDateTime = "DATETIME"

	DefaultRootElement = "HISTORY"
)

// EventElements lists the EVENT children in the order they are written.
var EventElements = []string{
	ElementByte0,
	ElementByte1,
	ElementByte2,
	ElementByte3,
	ElementAct,
	ElementDateTime,
}

var (
	ErrShortLine   = errors.New("line has fewer than 5 fields")
	ErrDecode      = errors.New("line is not valid utf-8 text")
	ErrLineTooLong = errors.New("line exceeds the maximum line size")
)

// FormatDateTime renders t as "DD/MM/YYYY HH:MM:SS" in t's location.
func FormatDateTime(t time.Time) string {
	return t.Format(DateLayout) + " " + t.Format(TimeLayout)
}
