package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/MrEthical07/lexguard"
	"github.com/google/uuid"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 128
)

// ParseTrustedProxies parses CIDR prefixes or bare addresses.
func ParseTrustedProxies(entries ...string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// RequestContext stores the client IP and a request ID in the request
// context and echoes the ID in the X-Request-ID response header.
//
// Forwarding headers are honoured only when the connection comes from one
// of trusted; otherwise a client could pick its own rate-limit identity.
func RequestContext(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if !validRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := lexguard.WithRequestID(r.Context(), id)
			ctx = lexguard.WithClientIP(ctx, resolveClientIP(r, trusted))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the address RequestContext resolved, or the connection
// address.
func ClientIP(r *http.Request) string {
	if ip := lexguard.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return remoteHost(r.RemoteAddr)
}

func resolveClientIP(r *http.Request, trusted []netip.Prefix) string {
	conn := remoteHost(r.RemoteAddr)
	if !isTrusted(conn, trusted) {
		return conn
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		return forwardedClient(strings.Join(xff, ","), conn, trusted)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.String()
		}
	}
	return conn
}

// forwardedClient walks X-Forwarded-For from the right, skipping hops inside
// trusted. Entries left of the first untrusted hop were written by the
// client and are ignored. An unparseable hop ends the walk at the last
// address known to be good.
func forwardedClient(xff, conn string, trusted []netip.Prefix) string {
	client := conn
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return client
		}
		client = addr.Unmap().String()
		if !isTrusted(client, trusted) {
			return client
		}
	}
	return client
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
