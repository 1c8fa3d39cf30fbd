package fasticap

import (
	"bytes"
	"testing"
)

func TestStatusLine(t *testing.T) {
	t.Parallel()

	testStatusLine(t, 99, "", "ICAP/1.0 99 Unknown Status Code\r\n")
	testStatusLine(t, StatusOK, "", "ICAP/1.0 200 OK\r\n")
	testStatusLine(t, StatusNoModification, "", "ICAP/1.0 204 No modifications needed\r\n")
	testStatusLine(t, StatusBadComposition, "", "ICAP/1.0 418 Bad composition\r\n")
	testStatusLine(t, StatusOK, "Fine", "ICAP/1.0 200 Fine\r\n")
	testStatusLine(t, 520, "", "ICAP/1.0 520 Unknown Status Code\r\n")
}

func testStatusLine(t *testing.T, statusCode int, reason, expected string) {
	line := appendStatusLine(nil, nil, statusCode, reason)
	if !bytes.Equal([]byte(expected), line) {
		t.Fatalf("unexpected status line %q. Expecting %q", line, expected)
	}
}

func TestStatusLineProtocol(t *testing.T) {
	t.Parallel()

	line := appendStatusLine([]byte("prefix "), []byte("ICAP/1.1"), StatusContinue, "")
	expected := "prefix ICAP/1.1 100 Continue after ICAP Preview\r\n"
	if string(line) != expected {
		t.Fatalf("unexpected status line %q. Expecting %q", line, expected)
	}
}
