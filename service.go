package fasticap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// HandlerFunc processes ICAP request and returns the response for it.
//
// Errors created by the engine (see Error) are reported to the peer
// with the corresponding status code. Other errors result in
// '500 Server error'.
type HandlerFunc func(req *Request) (*Response, error)

// Service is ICAP service available at Path.
//
// Service fields mustn't be changed after the service is passed
// to NewServiceMux.
type Service struct {
	// Path is the Abs_Path part of the service URI, e.g. /respmod.
	Path string

	// Name is sent in the Service header of OPTIONS responses.
	Name string

	// ISTag is sent with every response of the service.
	//
	// Random tag is generated by NewServiceMux if empty.
	ISTag string

	// Reqmod handles REQMOD requests. REQMOD isn't allowed if nil.
	Reqmod HandlerFunc

	// Respmod handles RESPMOD requests. RESPMOD isn't allowed if nil.
	Respmod HandlerFunc

	// Options handles OPTIONS requests.
	//
	// The default OPTIONS response built from OptionsHeader is sent if nil.
	Options HandlerFunc

	// OptionsHeader overrides the default OPTIONS response headers.
	OptionsHeader Header

	// ResponseHeader is merged into every response of the service.
	// Headers already set by the handler take precedence.
	ResponseHeader Header
}

// Methods returns the ICAP methods implemented by s, OPTIONS excluded.
func (s *Service) Methods() []string {
	var methods []string
	if s.Reqmod != nil {
		methods = append(methods, string(strReqmod))
	}
	if s.Respmod != nil {
		methods = append(methods, string(strRespmod))
	}
	return methods
}

func (s *Service) init() {
	if s.ISTag == "" {
		s.ISTag = newISTag()
	}
	s.ResponseHeader.Set(b2s(strISTag), s.ISTag)

	var h Header
	h.Set("Methods", strings.Join(s.Methods(), ", "))
	if s.Name != "" {
		h.Set("Service", s.Name)
	}
	h.Set("Preview", "0")
	h.Set("Transfer-Preview", "*")
	h.Set("Transfer-Ignore", "jpg, jpeg, gif, png, swf, flv, ico")
	h.Set("Transfer-Complete", "")
	h.Set("Max-Connections", "1000")
	h.Set("Options-TTL", "7200")
	for k, v := range s.OptionsHeader.All() {
		h.SetBytesKV(k, v)
	}
	h.CopyTo(&s.OptionsHeader)
}

// DefaultOptions returns the default OPTIONS response of s.
func (s *Service) DefaultOptions() *Response {
	resp := NewResponse(StatusOK)
	s.OptionsHeader.CopyTo(&resp.Header)
	return resp
}

func (s *Service) handler(method string) (HandlerFunc, bool) {
	switch method {
	case "REQMOD":
		return s.Reqmod, s.Reqmod != nil
	case "RESPMOD":
		return s.Respmod, s.Respmod != nil
	case "OPTIONS":
		if s.Options != nil {
			return s.Options, true
		}
		return func(*Request) (*Response, error) {
			return s.DefaultOptions(), nil
		}, true
	default:
		return nil, false
	}
}

// ServiceMux routes requests to services by Request.AbsPath.
//
// ServiceMux is immutable and may be shared by concurrently running
// goroutines.
type ServiceMux struct {
	services map[string]*Service
}

// NewServiceMux returns the routing table for the given services.
func NewServiceMux(services ...*Service) (*ServiceMux, error) {
	m := &ServiceMux{
		services: make(map[string]*Service, len(services)),
	}
	for _, s := range services {
		if !strings.HasPrefix(s.Path, "/") {
			return nil, fmt.Errorf("service path %q must start with '/'", s.Path)
		}
		if _, ok := m.services[s.Path]; ok {
			return nil, fmt.Errorf("duplicate service path %q", s.Path)
		}
		s.init()
		m.services[s.Path] = s
	}
	return m, nil
}

// Lookup returns the service registered at path or nil.
func (m *ServiceMux) Lookup(path string) *Service {
	return m.services[path]
}

// Paths returns the sorted paths of the registered services.
func (m *ServiceMux) Paths() []string {
	paths := make([]string, 0, len(m.services))
	for path := range m.services {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Handle dispatches req to the service registered at req.AbsPath.
func (m *ServiceMux) Handle(req *Request) (*Response, error) {
	s := m.Lookup(req.AbsPath)
	if s == nil {
		return nil, &Error{Kind: ErrKindServiceNotFound, Msg: req.AbsPath}
	}
	h, ok := s.handler(req.Method)
	if !ok {
		return nil, &Error{Kind: ErrKindMethodNotAllowed, Msg: fmt.Sprintf("%s %s", req.Method, req.AbsPath)}
	}
	resp, err := h(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		panic("BUG: service handler returned nil response without error")
	}
	resp.Header.Merge(&s.ResponseHeader)
	return resp, nil
}

// newISTag returns a random quoted ISTag value.
func newISTag() string {
	return `"` + strings.ReplaceAll(uuid.NewString(), "-", "") + `"`
}
