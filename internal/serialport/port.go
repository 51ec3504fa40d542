package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	tarm "github.com/tarm/serial"
	"serial-logger/internal/config"
	"serial-logger/pkg/protocol"
)

const defaultMaxLineSize = 4096

// LineReader splits a timed-read byte stream into newline-terminated lines.
// A read that returns no bytes is treated as the port's read timeout: the
// bytes collected so far are returned as the line, possibly empty.
type LineReader struct {
	r       io.Reader
	chunk   []byte
	pending []byte
	maxLine int
	// set while dropping the rest of an over-long line
	discarding bool
}

func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = defaultMaxLineSize
	}
	return &LineReader{
		r:       r,
		chunk:   make([]byte, 256),
		maxLine: maxLine,
	}
}

// ReadLine blocks until a full line arrives or a read times out. The
// returned slice includes the trailing newline when one was seen. A line
// longer than maxLine bytes, newline included, is dropped up to its
// newline and reported as protocol.ErrLineTooLong; the next call starts at
// the following line.
func (lr *LineReader) ReadLine() ([]byte, error) {
	for {
		i := bytes.IndexByte(lr.pending, '\n')
		if lr.discarding {
			if i >= 0 {
				lr.take(i + 1)
				lr.discarding = false
				continue
			}
			lr.pending = lr.pending[:0]
		} else {
			if i >= 0 && i < lr.maxLine {
				return lr.take(i + 1), nil
			}
			if i >= 0 || len(lr.pending) >= lr.maxLine {
				if i >= 0 {
					lr.take(i + 1)
				} else {
					lr.pending = lr.pending[:0]
					lr.discarding = true
				}
				return nil, fmt.Errorf("%w: limit %d bytes", protocol.ErrLineTooLong, lr.maxLine)
			}
		}

		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.pending = append(lr.pending, lr.chunk[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read serial: %w", err)
		}
		if n == 0 {
			// A timeout also ends a line that was being dropped.
			lr.discarding = false
			return lr.take(len(lr.pending)), nil
		}
	}
}

func (lr *LineReader) take(n int) []byte {
	line := make([]byte, n)
	copy(line, lr.pending[:n])
	lr.pending = append(lr.pending[:0], lr.pending[n:]...)
	return line
}

// Port is an open serial device read line by line.
type Port struct {
	*LineReader
	name string
	port io.ReadWriteCloser
}

// Open opens the configured device with its read timeout.
func Open(cfg config.SerialConfig) (*Port, error) {
	c := &tarm.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        byte(cfg.DataBits),
		Parity:      parity(cfg.Parity),
		StopBits:    stopBits(cfg.StopBits),
	}

	p, err := tarm.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	return newPort(cfg.Port, p, cfg.MaxLineSize), nil
}

func newPort(name string, rwc io.ReadWriteCloser, maxLine int) *Port {
	return &Port{
		LineReader: NewLineReader(rwc, maxLine),
		name:       name,
		port:       rwc,
	}
}

func (p *Port) Name() string {
	return p.name
}

// Write sends raw bytes to the device.
func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *Port) Close() error {
	return p.port.Close()
}

func parity(s string) tarm.Parity {
	switch s {
	case "E":
		return tarm.ParityEven
	case "O":
		return tarm.ParityOdd
	case "M":
		return tarm.ParityMark
	case "S":
		return tarm.ParitySpace
	default:
		return tarm.ParityNone
	}
}

func stopBits(n int) tarm.StopBits {
	if n == 2 {
		return tarm.Stop2
	}
	return tarm.Stop1
}
