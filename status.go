package fasticap

// ICAP status codes used by the engine.
//
// See https://tools.ietf.org/html/rfc3507#section-4.3.3 .
const (
	StatusContinue = 100

	StatusOK             = 200
	StatusNoModification = 204

	StatusBadRequest         = 400
	StatusServiceNotFound    = 404
	StatusMethodNotAllowed   = 405
	StatusRequestTimeout     = 408
	StatusRequestURITooLong  = 414
	StatusBadComposition     = 418
	StatusServerError        = 500
	StatusNotImplemented     = 501
	StatusBadGateway         = 502
	StatusServiceOverloaded  = 503
	StatusVersionUnsupported = 505
)

var statusMessages = map[int]string{
	StatusContinue: "Continue after ICAP Preview",

	StatusOK:             "OK",
	StatusNoModification: "No modifications needed",

	StatusBadRequest:         "Bad request",
	StatusServiceNotFound:    "ICAP Service not found",
	StatusMethodNotAllowed:   "Method not allowed for service",
	StatusRequestTimeout:     "Request timeout",
	StatusRequestURITooLong:  "Request-URI too long",
	StatusBadComposition:     "Bad composition",
	StatusServerError:        "Server error",
	StatusNotImplemented:     "Method not implemented",
	StatusBadGateway:         "Bad Gateway",
	StatusServiceOverloaded:  "Service overloaded",
	StatusVersionUnsupported: "ICAP version not supported by server",
}

// StatusMessage returns ICAP status message for the given status code.
func StatusMessage(statusCode int) string {
	s := statusMessages[statusCode]
	if s == "" {
		s = "Unknown Status Code"
	}
	return s
}

func appendStatusLine(dst, protocol []byte, statusCode int, reason string) []byte {
	if len(protocol) == 0 {
		protocol = defaultProtocol
	}
	if reason == "" {
		reason = StatusMessage(statusCode)
	}
	dst = append(dst, protocol...)
	dst = append(dst, ' ')
	dst = AppendUint(dst, statusCode)
	dst = append(dst, ' ')
	dst = append(dst, reason...)
	return append(dst, strCRLF...)
}
