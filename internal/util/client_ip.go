package util

import (
	"fmt"
	"net/http"
	"net/netip"
	"slices"
	"strings"
)

// UnknownIP keys callers whose address cannot be parsed, so they still
// share one abuse bucket instead of escaping it.
const UnknownIP = "unknown"

// TrustedProxies is the set of peers allowed to report the caller address
// through forwarding headers.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies accepts CIDRs or bare addresses. A nil result trusts nobody.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	var prefixes []netip.Prefix
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, nil
	}
	return &TrustedProxies{prefixes: prefixes}, nil
}

// Contains reports whether addr falls in a trusted range.
func (t *TrustedProxies) Contains(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	return slices.ContainsFunc(t.prefixes, func(p netip.Prefix) bool { return p.Contains(addr) })
}

// ClientIP returns the address that abuse tracking and audit records use.
// Headers are read only when the direct peer is trusted, in the order
// CF-Connecting-IP, X-Forwarded-For, X-Real-IP. The X-Forwarded-For chain
// is walked from the right and the first untrusted hop wins.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		return UnknownIP
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}
	if addr, ok := parseAddr(r.Header.Get("CF-Connecting-IP")); ok {
		return addr.String()
	}
	if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		hops = append(hops, peer)
		for i := len(hops) - 1; i >= 0; i-- {
			if !trusted.Contains(hops[i]) {
				return hops[i].String()
			}
		}
		return hops[0].String()
	}
	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr.String()
	}
	return peer.String()
}

// forwardedHops flattens repeated X-Forwarded-For headers, skipping junk entries.
func forwardedHops(values []string) []netip.Addr {
	var hops []netip.Addr
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if addr, ok := parseAddr(part); ok {
				hops = append(hops, addr)
			}
		}
	}
	return hops
}

func peerAddr(remote string) (netip.Addr, bool) {
	remote = strings.TrimSpace(remote)
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap().WithZone(""), true
	}
	return parseAddr(remote)
}

// parseAddr drops IPv6 zones and unmaps IPv4-in-IPv6 so one host has one key.
func parseAddr(raw string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}
