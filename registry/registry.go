// Package registry implements the process-wide endpoint→client cache.
// Grounded on use of a single global WebSocket connection slot
// (client/common/common.go's WSConn), generalised here into a keyed,
// concurrency-safe cache since this module talks to many controllers, not
// one fixed server.
package registry

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/kramer-control/brain-client-go/cmap"
	"github.com/kramer-control/brain-client-go/controller"
)

// defaultPort is used when an endpoint omits one.
const defaultPort = "8000"

// Endpoint is either a literal "host[:port]" string, or an "auto"
// descriptor resolved against a URL's query string at GetOrCreate time.
type Endpoint struct {
	Literal string
	Auto    *AutoEndpoint
}

// AutoEndpoint resolves to Param's value in the URL given to GetOrCreate,
// falling back to Default if the query string doesn't carry it.
type AutoEndpoint struct {
	Param   string
	Default string
}

// Literal wraps a fixed endpoint string.
func Literal(endpoint string) Endpoint { return Endpoint{Literal: endpoint} }

// Auto wraps an auto-resolved endpoint descriptor.
func Auto(param, def string) Endpoint { return Endpoint{Auto: &AutoEndpoint{Param: param, Default: def}} }

func (e Endpoint) resolve(source *url.URL) string {
	raw := e.Literal
	if e.Auto != nil {
		raw = e.Auto.Default
		if source != nil {
			if v := source.Query().Get(e.Auto.Param); v != "" {
				raw = v
			}
		}
	}
	return withDefaultPort(raw)
}

func withDefaultPort(endpoint string) string {
	if strings.Contains(endpoint, ":") {
		return endpoint
	}
	return endpoint + ":" + defaultPort
}

// Registry is the endpoint→Controller cache. Mutation is idempotent
// get-or-create; nothing is ever auto-evicted.
type Registry struct {
	mu      sync.Mutex
	clients cmap.Map[string, *controller.Controller]
}

// New returns an empty Registry. Most applications want the process-wide
// Default instance instead: a module-scoped singleton created at package
// initialisation, not ambient mutation inside methods.
func New() *Registry {
	return &Registry{clients: cmap.New[*controller.Controller]()}
}

// Default is the process-wide registry most callers should use.
var Default = New()

// GetOrCreate returns the cached Controller for endpoint (resolved against
// source, which may be nil for a literal endpoint), or constructs one and
// schedules a connect on the next tick so the caller can attach listeners
// first.
func (r *Registry) GetOrCreate(endpoint Endpoint, source *url.URL, opts controller.Options) *controller.Controller {
	key := endpoint.resolve(source)

	if existing, ok := r.clients.Get(key); ok {
		return existing
	}

	r.mu.Lock()
	if existing, ok := r.clients.Get(key); ok {
		r.mu.Unlock()
		return existing
	}
	ctrl := controller.New(key, opts)
	r.clients.Set(key, ctrl)
	r.mu.Unlock()

	go ctrl.Connect(context.Background())
	return ctrl
}

// portString is a small helper kept for callers constructing literal
// endpoints from a separately-known host/port pair.
func portString(port int) string {
	return strconv.Itoa(port)
}

// WithPort joins host and port into a literal endpoint string.
func WithPort(host string, port int) string {
	return host + ":" + portString(port)
}
