// Package netguard защищает исходящие запросы от SSRF:
// проверяет схему, имя хоста и все IP-адреса, в которые он разрешается.
package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mdwit/spec2call/internal/metrics"
)

// ErrBlocked базовая ошибка для всех отклонённых URL
var ErrBlocked = errors.New("url blocked by network guard")

// BlockedError причина отклонения URL
type BlockedError struct {
	URL    string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("url %q blocked: %s", e.URL, e.Reason)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// Resolver разрешение имён; net.DefaultResolver подходит
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Config настройки проверки
type Config struct {
	// AllowPrivateNetworks отключает проверку адресов и имён (только для разработки)
	AllowPrivateNetworks bool
}

type blockedRange struct {
	prefix netip.Prefix
	reason string
}

var metadataAddrs = map[netip.Addr]struct{}{
	netip.MustParseAddr("169.254.169.254"): {},
	netip.MustParseAddr("100.100.100.200"): {},
	netip.MustParseAddr("fd00:ec2::254"):   {},
}

var blockedRanges = []blockedRange{
	{netip.MustParsePrefix("0.0.0.0/8"), "unspecified address"},
	{netip.MustParsePrefix("10.0.0.0/8"), "private address"},
	{netip.MustParsePrefix("100.64.0.0/10"), "shared address space"},
	{netip.MustParsePrefix("127.0.0.0/8"), "loopback address"},
	{netip.MustParsePrefix("169.254.0.0/16"), "link-local address"},
	{netip.MustParsePrefix("172.16.0.0/12"), "private address"},
	{netip.MustParsePrefix("192.0.0.0/24"), "reserved address"},
	{netip.MustParsePrefix("192.0.2.0/24"), "documentation address"},
	{netip.MustParsePrefix("192.168.0.0/16"), "private address"},
	{netip.MustParsePrefix("198.18.0.0/15"), "benchmark address"},
	{netip.MustParsePrefix("198.51.100.0/24"), "documentation address"},
	{netip.MustParsePrefix("203.0.113.0/24"), "documentation address"},
	{netip.MustParsePrefix("224.0.0.0/4"), "multicast address"},
	{netip.MustParsePrefix("240.0.0.0/4"), "reserved address"},
	{netip.MustParsePrefix("::/128"), "unspecified address"},
	{netip.MustParsePrefix("::1/128"), "loopback address"},
	{netip.MustParsePrefix("64:ff9b::/96"), "translated address"},
	{netip.MustParsePrefix("2001:db8::/32"), "documentation address"},
	{netip.MustParsePrefix("fc00::/7"), "unique local address"},
	{netip.MustParsePrefix("fe80::/10"), "link-local address"},
	{netip.MustParsePrefix("ff00::/8"), "multicast address"},
}

var blockedSuffixes = []string{".local", ".internal", ".localhost"}

// Validator проверяет URL перед любым запросом по адресу, пришедшему от пользователя
type Validator struct {
	allowPrivate bool
	resolver     Resolver
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// NewValidator создаёт проверку; collector и logger могут быть nil
func NewValidator(cfg Config, collector *metrics.Collector, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		allowPrivate: cfg.AllowPrivateNetworks,
		resolver:     net.DefaultResolver,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "netguard")),
	}
}

// WithResolver подменяет DNS resolver
func (v *Validator) WithResolver(r Resolver) *Validator {
	v.resolver = r
	return v
}

// Validate проверяет схему, имя хоста и все разрешённые адреса
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return v.block(rawURL, "malformed url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return v.block(rawURL, fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return v.block(rawURL, "missing host")
	}
	if v.allowPrivate {
		return nil
	}

	if host == "localhost" {
		return v.block(rawURL, "local hostname")
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return v.block(rawURL, fmt.Sprintf("hostname ending in %s", suffix))
		}
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if reason := blockedReason(ip); reason != "" {
			return v.block(rawURL, reason)
		}
		return nil
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return v.block(rawURL, "host resolves to no addresses")
	}
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return v.block(rawURL, "unparseable resolved address")
		}
		if reason := blockedReason(ip); reason != "" {
			return v.block(rawURL, fmt.Sprintf("%s resolves to %s (%s)", host, ip.Unmap(), reason))
		}
	}
	return nil
}

// CheckIP проверяет один адрес; используется при установке соединения
func (v *Validator) CheckIP(ip netip.Addr) error {
	if v.allowPrivate {
		return nil
	}
	if reason := blockedReason(ip); reason != "" {
		return v.block(ip.String(), reason)
	}
	return nil
}

func (v *Validator) block(rawURL, reason string) error {
	v.metrics.RecordBlockedURL(reasonLabel(reason))
	v.logger.Warn("blocked outbound url", zap.String("url", rawURL), zap.String("reason", reason))
	return &BlockedError{URL: rawURL, Reason: reason}
}

func blockedReason(ip netip.Addr) string {
	ip = ip.Unmap()
	if !ip.IsValid() {
		return "invalid address"
	}
	if _, ok := metadataAddrs[ip]; ok {
		return "cloud metadata address"
	}
	if ip == netip.MustParseAddr("255.255.255.255") {
		return "broadcast address"
	}
	for _, r := range blockedRanges {
		if r.prefix.Contains(ip) {
			return r.reason
		}
	}
	return ""
}

// reasonLabel ограничивает кардинальность меток метрики
func reasonLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "scheme"):
		return "scheme"
	case strings.Contains(reason, "hostname"):
		return "hostname"
	case strings.Contains(reason, "resolves to"), strings.HasSuffix(reason, "address"):
		return "address"
	}
	return "other"
}
