package fasticap

var (
	defaultServerName = []byte("fasticap")
	defaultProtocol   = []byte("ICAP/1.0")
	defaultHTTP11     = []byte("HTTP/1.1")
)

var (
	strCRLF       = []byte("\r\n")
	strColonSpace = []byte(": ")
	strCommaSpace = []byte(", ")

	strReqmod  = []byte("REQMOD")
	strRespmod = []byte("RESPMOD")

	strEncapsulated    = []byte("Encapsulated")
	strPreview         = []byte("Preview")
	strConnection      = []byte("Connection")
	strDate            = []byte("Date")
	strServer          = []byte("Server")
	strISTag           = []byte("ISTag")
	strContentEncoding = []byte("Content-Encoding")
	strContentLength   = []byte("Content-Length")

	strClose    = []byte("close")
	strIdentity = []byte("identity")
	strIEOF     = []byte("ieof")

	strLastChunk = []byte("0\r\n\r\n")
)

const (
	rChar = byte('\r')
	nChar = byte('\n')
)
