// Package endpoint parses broker WebSocket URLs.
package endpoint

import (
	"net"
	"net/url"
	"strconv"

	errspkg "github.com/drblury/kitchenflow/internal/runtime/errors"
)

// Accepted URL schemes.
const (
	SchemeInsecure = "ws"
	SchemeSecure   = "wss"
)

// Defaults for parts missing from a broker URL.
const (
	DefaultHost = "localhost"
	DefaultPath = "/mqtt"

	defaultInsecurePort = 80
	defaultSecurePort   = 443
)

// WsEndpoint is a broker address reachable over MQTT-over-WebSocket.
type WsEndpoint struct {
	Host   string
	Port   int
	Path   string
	Secure bool
}

// Parse turns a ws:// or wss:// URL into a WsEndpoint. Missing parts fall
// back to localhost, the scheme's default port and /mqtt. Any other scheme
// is a *errors.ConfigurationError.
func Parse(raw string) (WsEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return WsEndpoint{}, errspkg.NewConfigurationError("broker url", "cannot parse", err)
	}

	var ep WsEndpoint
	switch u.Scheme {
	case SchemeInsecure:
		ep.Port = defaultInsecurePort
	case SchemeSecure:
		ep.Port = defaultSecurePort
		ep.Secure = true
	default:
		return WsEndpoint{}, errspkg.NewConfigurationError("broker url", "must start with ws:// or wss://", nil)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return WsEndpoint{}, errspkg.NewConfigurationError("broker url", "port must be in 1..65535", err)
		}
		ep.Port = port
	}

	ep.Host = u.Hostname()
	if ep.Host == "" {
		ep.Host = DefaultHost
	}

	ep.Path = u.EscapedPath()
	if ep.Path == "" {
		ep.Path = DefaultPath
	}

	return ep, nil
}

// Scheme returns ws or wss.
func (e WsEndpoint) Scheme() string {
	if e.Secure {
		return SchemeSecure
	}
	return SchemeInsecure
}

// Address returns host:port, bracketing IPv6 literals.
func (e WsEndpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL renders the canonical broker URL including the explicit port.
func (e WsEndpoint) URL() string {
	return e.Scheme() + "://" + e.Address() + e.Path
}
