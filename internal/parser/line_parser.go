package parser

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"serial-logger/pkg/protocol"
)

type Parser struct {
	now func() time.Time
}

func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// NewParserWithClock uses now instead of the wall clock for DATETIME.
func NewParserWithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

// Decode turns raw line bytes into a Reading.
func (p *Parser) Decode(raw []byte) (protocol.Reading, error) {
	if !utf8.Valid(raw) {
		return protocol.Reading{}, fmt.Errorf("%w: % x", protocol.ErrDecode, raw)
	}

	text := strings.TrimSpace(string(raw))
	return protocol.Reading{
		Raw:    text,
		Fields: strings.Split(text, protocol.Delimiter),
	}, nil
}

// BuildEvent maps the first five fields positionally onto an Event stamped
// with now. Fields past the fifth are ignored.
func (p *Parser) BuildEvent(source string, r protocol.Reading, now time.Time) (*protocol.Event, error) {
	if len(r.Fields) < protocol.FieldCount {
		return nil, fmt.Errorf("%w: got %d in %q", protocol.ErrShortLine, len(r.Fields), r.Raw)
	}

	return &protocol.Event{
		ID:         uuid.New().String(),
		Source:     source,
		Byte0:      r.Fields[0],
		Byte1:      r.Fields[1],
		Byte2:      r.Fields[2],
		Byte3:      r.Fields[3],
		Act:        r.Fields[4],
		DateTime:   protocol.FormatDateTime(now),
		RecordedAt: now,
	}, nil
}

// Parse decodes raw, filters empty readings and builds the Event.
func (p *Parser) Parse(source string, raw []byte) *protocol.ParseResult {
	result := &protocol.ParseResult{}

	reading, err := p.Decode(raw)
	if err != nil {
		result.Error = err
		return result
	}
	result.Reading = reading

	if reading.Empty() {
		result.Skipped = true
		return result
	}

	event, err := p.BuildEvent(source, reading, p.now())
	if err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	result.Data = event
	return result
}
