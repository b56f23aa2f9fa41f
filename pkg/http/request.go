package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver finds the address of the browser behind the gateway's
// reverse proxies. Forwarding headers are read only when the connecting
// peer is a trusted proxy. X-Forwarded-For is walked from the right and the
// first hop that is not a trusted proxy wins, so entries a client prepends
// itself are never reached.
//
// A nil resolver trusts nobody and always answers with the peer address.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver parses trusted proxy ranges. Entries may be CIDR
// prefixes or single addresses.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	r := &ClientIPResolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

// ClientIP returns the client address of req
func (r *ClientIPResolver) ClientIP(req *http.Request) string {
	peer, ok := peerAddr(req.RemoteAddr)
	if !ok {
		if req.RemoteAddr == "" {
			return "unknown"
		}
		return req.RemoteAddr
	}
	if !r.isTrusted(peer) {
		return peer.String()
	}

	if client, ok := r.fromForwardedFor(req.Header.Values("X-Forwarded-For")); ok {
		return client.String()
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(req.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	return peer.String()
}

// fromForwardedFor walks the hops right to left. All headers are treated as
// one list, as proxies may append a second header instead of extending the
// first.
func (r *ClientIPResolver) fromForwardedFor(headers []string) (netip.Addr, bool) {
	var hops []string
	for _, h := range headers {
		hops = append(hops, strings.Split(h, ",")...)
	}

	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// garbage left of here was not written by a proxy we trust
			break
		}
		addr = addr.Unmap()
		if !r.isTrusted(addr) {
			return addr, true
		}
		last = addr
	}
	return last, last.IsValid()
}

func (r *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	if r == nil {
		return false
	}
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// peerAddr parses RemoteAddr with or without a port
func peerAddr(remoteAddr string) (netip.Addr, bool) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
