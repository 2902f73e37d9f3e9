package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig lists the proxies whose forwarding headers are trusted
type IPConfig struct {
	networks []*net.IPNet
}

// NewIPConfig parses trusted proxies given as CIDR ranges or single addresses.
// Unparseable entries are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	cfg := &IPConfig{}
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				bits := 128
				if ip.To4() != nil {
					ip = ip.To4()
					bits = 32
				}
				cfg.networks = append(cfg.networks, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			}
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			cfg.networks = append(cfg.networks, ipNet)
		}
	}
	return cfg
}

// ExtractClientIP returns the caller's address. X-Forwarded-For and X-Real-IP
// are only honoured when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddr(r)

	if config == nil || !config.trusts(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}

	return remoteIP
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (c *IPConfig) trusts(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range c.networks {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
