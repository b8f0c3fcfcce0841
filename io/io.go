// Package io implements the line framing shared by every protocol served by
// wren: CRLF terminated lines bounded by a maximum length.
package io

import (
	"bufio"
	"errors"
)

var (
	ErrLineTooLong    = errors.New("wren: line too long")
	ErrBadLineEnding  = errors.New("wren: line not terminated by CRLF")
	Err8BitIn7BitMode = errors.New("wren: 8-bit data in 7BIT mode")
)

// ReadLine reads one line terminated by CRLF and returns it without the
// terminator. max bounds the line length including the CRLF. When enforce is
// set, octets above 127 are rejected.
//
// After ErrLineTooLong the remainder of the offending line has been consumed,
// so the next call starts on a fresh line.
func ReadLine(reader *bufio.Reader, max int, enforce bool) ([]byte, error) {
	line, err := reader.ReadSlice('\n')
	if err == nil {
		if enforce && !isASCII(line) {
			return nil, Err8BitIn7BitMode
		}
		return validateAndCopy(line, max)
	}

	if err != bufio.ErrBufferFull {
		return nil, err
	}

	// The line is larger than the bufio buffer; ReadSlice reuses its buffer
	// so every chunk has to be copied before the next read.
	if len(line) > max {
		drainLine(reader)
		return nil, ErrLineTooLong
	}
	if enforce && !isASCII(line) {
		drainLine(reader)
		return nil, Err8BitIn7BitMode
	}
	buf := append([]byte(nil), line...)

	for {
		line, err = reader.ReadSlice('\n')

		if len(buf)+len(line) > max {
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return nil, ErrLineTooLong
		}

		if enforce && !isASCII(line) {
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return nil, Err8BitIn7BitMode
		}

		buf = append(buf, line...)

		if err == nil {
			break
		}

		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}

	return validateAndCopy(buf, max)
}

// validateAndCopy checks length and CRLF and strips the terminator.
func validateAndCopy(b []byte, max int) ([]byte, error) {
	if len(b) > max {
		// The whole line has been read, nothing left to drain.
		return nil, ErrLineTooLong
	}

	// b ends in '\n' because ReadSlice returned a nil error.
	if len(b) < 2 || b[len(b)-2] != '\r' {
		return nil, ErrBadLineEnding
	}

	out := make([]byte, len(b)-2)
	copy(out, b)
	return out, nil
}

// isASCII reports whether b holds only US-ASCII octets.
func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 127 {
			return false
		}
	}
	return true
}

// drainLine discards the rest of the current line to recover protocol synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if err != bufio.ErrBufferFull {
			return
		}
	}
}
