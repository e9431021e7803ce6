// Package redact маскирует персональные данные перед записью в логи.
package redact

import (
	"net/netip"
	"strings"
)

// Email оставляет первые две руны локальной части и домен.
func Email(s string) string {
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return "***"
	}

	local, domain := []rune(parts[0]), parts[1]
	if len(local) > 2 {
		return string(local[:2]) + "***@" + domain
	}

	return "***@" + domain
}

// IP обнуляет хвост адреса: последний октет для IPv4, последние 80 бит для IPv6.
// Нераспознанное значение целиком скрывается.
func IP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "***"
	}

	addr = addr.Unmap()
	if addr.Is4() {
		p, _ := addr.Prefix(24)
		return p.Addr().String()
	}

	p, _ := addr.Prefix(48)
	return p.Addr().String()
}

func Password() string { return "[REDACTED_PASSWORD]" }
