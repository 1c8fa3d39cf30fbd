package fasticap

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unsafe"
)

const (
	maxIntChars    = 18
	maxHexIntChars = 15
)

var gmtLocation = func() *time.Location {
	x, err := time.LoadLocation("GMT")
	if err != nil {
		panic(fmt.Sprintf("cannot load GMT location: %s", err))
	}
	return x
}()

// AppendHTTPDate appends HTTP-compliant (RFC1123) representation of date
// to dst and returns dst (which may be newly allocated).
func AppendHTTPDate(dst []byte, date time.Time) []byte {
	return date.In(gmtLocation).AppendFormat(dst, time.RFC1123)
}

// AppendUint appends n to dst and returns dst (which may be newly allocated).
func AppendUint(dst []byte, n int) []byte {
	if n < 0 {
		panic("BUG: int must be positive")
	}
	return strconv.AppendUint(dst, uint64(n), 10)
}

// ParseUint parses uint from buf.
func ParseUint(buf []byte) (int, error) {
	v, n, err := parseUintBuf(buf)
	if n != len(buf) {
		return -1, fmt.Errorf("only %d bytes out of %d bytes exhausted when parsing int %q", n, len(buf), buf)
	}
	return v, err
}

func parseUintBuf(b []byte) (int, int, error) {
	n := len(b)
	if n == 0 {
		return -1, 0, errEmptyInt
	}
	v := 0
	for i := 0; i < n; i++ {
		c := b[i]
		k := c - '0'
		if k > 9 {
			if i == 0 {
				return -1, i, fmt.Errorf("unexpected first char %c. Expected 0-9", c)
			}
			return v, i, nil
		}
		if i >= maxIntChars {
			return -1, i, fmt.Errorf("too long int %q", b[:i+1])
		}
		v = 10*v + int(k)
	}
	return v, n, nil
}

var (
	errEmptyInt    = errors.New("empty integer")
	errEmptyHexNum = errors.New("cannot read hex num from empty string")
	errTooLargeHex = fmt.Errorf("cannot read hex num with more than %d digits", maxHexIntChars)
)

// parseHexInt parses the hex number at the start of b and returns it
// together with the number of bytes consumed.
func parseHexInt(b []byte) (int, int, error) {
	n := 0
	i := 0
	for ; i < len(b); i++ {
		k := hexbyte2int(b[i])
		if k < 0 {
			break
		}
		if i >= maxHexIntChars {
			return -1, i, errTooLargeHex
		}
		n = (n << 4) | k
	}
	if i == 0 {
		return -1, 0, errEmptyHexNum
	}
	return n, i, nil
}

var hexIntBufPool sync.Pool

func writeHexInt(w *bufio.Writer, n int) error {
	if n < 0 {
		panic("BUG: int must be positive")
	}

	v := hexIntBufPool.Get()
	if v == nil {
		v = make([]byte, maxHexIntChars+1)
	}
	buf := v.([]byte)
	i := len(buf) - 1
	for {
		buf[i] = int2hexbyte(n & 0xf)
		n >>= 4
		if n == 0 {
			break
		}
		i--
	}
	_, err := w.Write(buf[i:])
	hexIntBufPool.Put(v)
	return err
}

func int2hexbyte(n int) byte {
	if n < 10 {
		return '0' + byte(n)
	}
	return 'a' + byte(n) - 10
}

var hex2intTable = func() [256]byte {
	var b [256]byte
	for i := 0; i < 256; i++ {
		c := byte(16)
		if i >= '0' && i <= '9' {
			c = byte(i) - '0'
		} else if i >= 'a' && i <= 'f' {
			c = byte(i) - 'a' + 10
		} else if i >= 'A' && i <= 'F' {
			c = byte(i) - 'A' + 10
		}
		b[i] = c
	}
	return b
}()

func hexbyte2int(c byte) int {
	k := hex2intTable[c]
	if k == 16 {
		return -1
	}
	return int(k)
}

const toLower = 'a' - 'A'

func lowercaseByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + toLower
	}
	return c
}

func uppercaseByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - toLower
	}
	return c
}

func caseInsensitiveCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lowercaseByte(a[i]) != lowercaseByte(b[i]) {
			return false
		}
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// trim returns s with leading and trailing spaces and tabs removed.
func trim(s []byte) []byte {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	n := len(s)
	for n > i && isSpace(s[n-1]) {
		n--
	}
	return s[i:n]
}

// b2s converts byte slice to a string without memory allocation.
// See https://groups.google.com/forum/#!msg/Golang-Nuts/ENgbUzYvCuU/90yGx7GUAgAJ .
func b2s(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// s2b converts string to a byte slice without memory allocation.
func s2b(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
