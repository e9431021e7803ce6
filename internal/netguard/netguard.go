// Package netguard проверяет, что адрес назначения исходящего запроса публичный.
// Используется рендерером ссылок и загрузчиком превью.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

var (
	ErrScheme        = errors.New("netguard: scheme must be http or https")
	ErrNoHost        = errors.New("netguard: host is empty")
	ErrResolve       = errors.New("netguard: host resolution failed")
	ErrForbiddenAddr = errors.New("netguard: address is not public")
)

// Resolver - источник адресов для имени хоста. *net.Resolver удовлетворяет интерфейсу.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard - проверка адресов назначения.
type Guard struct {
	resolver Resolver
	allow    func(netip.Addr) bool
}

// Option настраивает Guard.
type Option func(*Guard)

// WithResolver подменяет резолвер (в тестах - фиксированная таблица).
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithAllow подменяет предикат допустимого адреса. По умолчанию IsPublic.
func WithAllow(fn func(netip.Addr) bool) Option {
	return func(g *Guard) { g.allow = fn }
}

// New создаёт Guard с системным резолвером.
func New(opts ...Option) *Guard {
	g := &Guard{resolver: net.DefaultResolver, allow: IsPublic}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

var reserved = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("100::/64"),
}

// IsPublic - адрес маршрутизируется в публичном интернете.
// Отклоняются loopback, private, link-local, multicast, unspecified и служебные диапазоны.
func IsPublic(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}

	addr = addr.Unmap()

	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return false
	}

	if addr.Is4() && addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return false
	}

	for _, p := range reserved {
		if p.Contains(addr) {
			return false
		}
	}

	return true
}

// CheckURL проверяет схему, наличие хоста и адреса хоста.
func (g *Guard) CheckURL(ctx context.Context, u *url.URL) error {
	if u == nil {
		return ErrNoHost
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrScheme
	}

	return g.CheckHost(ctx, u.Hostname())
}

// CheckHost разрешает имя и требует, чтобы каждый полученный адрес был допустим.
// Литеральный IP проверяется без обращения к DNS.
func (g *Guard) CheckHost(ctx context.Context, host string) error {
	_, err := g.Resolve(ctx, host)
	return err
}

// Resolve возвращает проверенные адреса хоста.
func (g *Guard) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if host == "" {
		return nil, ErrNoHost
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !g.allow(addr) {
			return nil, fmt.Errorf("%w: %s", ErrForbiddenAddr, addr)
		}
		return []netip.Addr{addr}, nil
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}

	if len(addrs) == 0 {
		return nil, ErrResolve
	}

	for _, addr := range addrs {
		if !g.allow(addr) {
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrForbiddenAddr, host, addr)
		}
	}

	return addrs, nil
}

// DialControl подключается к net.Dialer.Control: проверяет фактический адрес
// соединения, что закрывает подмену DNS между проверкой и подключением.
func (g *Guard) DialControl(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddr, address)
	}

	if !g.allow(ap.Addr()) {
		return fmt.Errorf("%w: dial %s %s", ErrForbiddenAddr, network, ap.Addr())
	}

	return nil
}
