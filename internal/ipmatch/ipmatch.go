// Package ipmatch tests client IPs against allowlist/denylist entries. An
// entry is either a bare IP or CIDR notation; IPv4 and IPv6 are matched
// independently, with no implicit v4-in-v6 mapping.
package ipmatch

import (
	"net/netip"
	"strings"

	"github.com/japperJ/geogate/internal/logger"
)

// Match reports whether ip matches any entry in the list. An unparseable
// input IP never matches; unparseable entries are skipped with a warning so a
// single bad rule cannot poison the rest of the list.
func Match(ip string, entries []string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}

	for _, entry := range entries {
		if matchEntry(addr, entry) {
			return true
		}
	}
	return false
}

// IsValidEntry reports whether entry parses as a bare IP or CIDR. Used by
// policy validation before rules are persisted.
func IsValidEntry(entry string) bool {
	entry = strings.TrimSpace(entry)
	if _, err := netip.ParseAddr(entry); err == nil {
		return true
	}
	_, err := netip.ParsePrefix(entry)
	return err == nil
}

func matchEntry(addr netip.Addr, entry string) bool {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return false
	}

	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			logger.WithFields(map[string]interface{}{"entry": entry}).Warn("skipping invalid CIDR entry")
			return false
		}
		// Prefix.Contains already refuses to mix address families.
		return prefix.Contains(addr)
	}

	single, err := netip.ParseAddr(entry)
	if err != nil {
		logger.WithFields(map[string]interface{}{"entry": entry}).Warn("skipping invalid IP entry")
		return false
	}
	if single.Is4() != addr.Is4() {
		return false
	}
	return single == addr
}
