package fetch

import (
	"context"
	"net"
	"time"

	"github.com/herald-labs/herald/internal/cache"
)

// cachingDialer resolves hostnames through a small TTL cache so repeated
// polls of the same hosts don't hammer the resolver.
type cachingDialer struct {
	dialer *net.Dialer
	hosts  *cache.Cache[string, []string]
}

func newCachingDialer(dialer *net.Dialer, ttl time.Duration) *cachingDialer {
	return &cachingDialer{
		dialer: dialer,
		hosts:  cache.New[string, []string](ttl),
	}
}

func (d *cachingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return d.dialer.DialContext(ctx, network, address)
	}
	if net.ParseIP(host) != nil {
		return d.dialer.DialContext(ctx, network, address)
	}

	addrs, err := d.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, addr := range addrs {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *cachingDialer) resolve(ctx context.Context, host string) ([]string, error) {
	if addrs, ok := d.hosts.Get(host); ok {
		return addrs, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	d.hosts.Set(host, addrs)
	return addrs, nil
}
