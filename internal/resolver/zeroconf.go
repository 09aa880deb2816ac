package resolver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// ZeroconfDiscoverer browses DNS-SD on the local link.
type ZeroconfDiscoverer struct {
	Service string
	Domain  string
	Timeout time.Duration
}

func NewZeroconfDiscoverer(service string, timeout time.Duration) *ZeroconfDiscoverer {
	return &ZeroconfDiscoverer{Service: service, Domain: "local.", Timeout: timeout}
}

// Discover collects candidates for Timeout and returns them in arrival
// order without duplicates.
func (d *ZeroconfDiscoverer) Discover(ctx context.Context) ([]string, error) {
	res, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := res.Browse(browseCtx, d.Service, d.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", d.Service, err)
	}

	var out []string
	seen := map[string]struct{}{}
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return out, ctx.Err()
			}
			if e == nil {
				continue
			}
			for _, c := range Candidates(e.HostName, e.AddrIPv4, e.Port) {
				if _, dup := seen[c]; !dup {
					seen[c] = struct{}{}
					out = append(out, c)
				}
			}
		case <-browseCtx.Done():
			return out, ctx.Err()
		}
	}
}

// Candidates builds http://<ip>:<port> for each IPv4 address, or
// http://<hostname>:<port> when none is advertised.
func Candidates(hostname string, ips []net.IP, port int) []string {
	p := strconv.Itoa(port)
	var out []string
	for _, ip := range ips {
		if ip == nil {
			continue
		}
		out = append(out, "http://"+net.JoinHostPort(ip.String(), p))
	}
	if len(out) == 0 {
		if h := strings.TrimSuffix(hostname, "."); h != "" {
			out = append(out, "http://"+net.JoinHostPort(h, p))
		}
	}
	return out
}
