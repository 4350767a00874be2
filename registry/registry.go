// Package registry maps a URL scheme ("udpm", "inproc") to a
// constructor for a transport.Interface, the way the specification's
// §9 dynamic-dispatch note describes: a process-wide table populated at
// init time, consulted at runtime by scheme name rather than by a
// compile-time type switch.
package registry

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zcmgo/udpm/inproc"
	"github.com/zcmgo/udpm/internal/udpmconfig"
	"github.com/zcmgo/udpm/transport"
)

// Constructor builds a transport.Interface from a parsed URL's
// scheme-specific parts and an optional logger.
type Constructor func(raw string, log *logrus.Logger) (transport.Interface, error)

var (
	mu           sync.Mutex
	constructors = map[string]Constructor{}
)

func init() {
	Register("udpm", newUDPM)
	Register("inproc", newInproc)
}

// Register associates scheme with a constructor. Registering the same
// scheme twice replaces the previous constructor; this is intentional,
// so a caller can substitute a test double for "udpm" without forking
// the registry.
func Register(scheme string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	constructors[scheme] = ctor
}

// Open parses raw as a URL, looks up its scheme in the registry, and
// invokes the matching constructor. log may be nil, in which case the
// constructor falls back to its own default logger.
func Open(raw string, log *logrus.Logger) (transport.Interface, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("registry: parse url: %w", err)
	}

	mu.Lock()
	ctor, ok := constructors[u.Scheme]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("registry: no transport registered for scheme %q", u.Scheme)
	}
	return ctor(raw, log)
}

func newUDPM(raw string, log *logrus.Logger) (transport.Interface, error) {
	cfg, err := udpmconfig.ParseURL(raw)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return transport.New(cfg, log)
}

func newInproc(raw string, _ *logrus.Logger) (transport.Interface, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("registry: parse url: %w", err)
	}

	mtu := 0
	queueDepth := 0
	q := u.Query()
	if v := q.Get("mtu"); v != "" {
		fmt.Sscanf(v, "%d", &mtu)
	}
	if v := q.Get("queue"); v != "" {
		fmt.Sscanf(v, "%d", &queueDepth)
	}
	return inproc.New(mtu, queueDepth), nil
}
