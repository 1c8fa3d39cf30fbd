package fasticap

import (
	"bufio"
	"io"
)

// lineReader reads CRLF (or bare LF) terminated lines from r and counts
// the consumed bytes, so section offsets of the Encapsulated header
// may be verified.
type lineReader struct {
	r *bufio.Reader

	// n is the number of bytes consumed since the last reset.
	n int

	// maxLine limits the line length including the terminator.
	// Zero means no limit.
	maxLine int

	// maxTotal limits the number of bytes consumed since the last reset.
	// Zero means no limit.
	maxTotal int

	// last is the last line including its terminator.
	last []byte

	buf []byte
}

var (
	errLineTooLong  = badRequestError("too long line")
	errHeadTooLarge = badRequestError("too large header block")
)

func (lr *lineReader) reset() {
	lr.n = 0
}

// readLine returns the next line without the line terminator.
//
// The returned line is valid until the next readLine call.
// io.EOF is returned only if the connection is closed before the first
// byte of the line. A line cut by the end of stream results
// in io.ErrUnexpectedEOF.
func (lr *lineReader) readLine() ([]byte, error) {
	lr.buf = lr.buf[:0]
	lr.last = nil
	var line []byte
	for {
		b, err := lr.r.ReadSlice(nChar)
		lr.n += len(b)
		if lr.maxLine > 0 && len(lr.buf)+len(b) > lr.maxLine {
			return nil, errLineTooLong
		}
		if lr.maxTotal > 0 && lr.n > lr.maxTotal {
			return nil, errHeadTooLarge
		}
		if err == nil {
			if len(lr.buf) == 0 {
				line = b
			} else {
				lr.buf = append(lr.buf, b...)
				line = lr.buf
			}
			break
		}
		if err != bufio.ErrBufferFull {
			if err == io.EOF && len(lr.buf)+len(b) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		lr.buf = append(lr.buf, b...)
	}

	lr.last = line
	n := len(line) - 1
	if n > 0 && line[n-1] == rChar {
		n--
	}
	return line[:n], nil
}

// checkOffset verifies the number of consumed bytes matches the declared
// offset of section s.
func (lr *lineReader) checkOffset(o EncapsulatedOffset) error {
	if lr.n != o.Offset {
		return compositionError("offset '%s' (%d != %d)", o.Section, o.Offset, lr.n)
	}
	return nil
}
