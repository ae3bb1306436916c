package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"

	"packet-racers/pkg/logger"
)

const (
	// ServiceType is the mDNS service type directories announce themselves under
	ServiceType = "_packet-racers._tcp"
	// Domain is the local domain for mDNS
	Domain = "local."
	// RoleKey is the TXT record naming what the announced service is.
	RoleKey = "type"
)

// ServiceInfo describes one announced directory.
type ServiceInfo struct {
	InstanceName string
	HostName     string
	Port         int
	IPs          []string
	Meta         map[string]string
}

// Addrs returns "ip:port" for every IPv4 address of the service.
func (s *ServiceInfo) Addrs() []string {
	addrs := make([]string, 0, len(s.IPs))
	for _, ip := range s.IPs {
		addrs = append(addrs, net.JoinHostPort(ip, strconv.Itoa(s.Port)))
	}
	return addrs
}

// Advertiser broadcasts a local service until stopped.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

// Resolver handles service discovery
type Resolver struct {
	resolver *zeroconf.Resolver
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start registers instanceName on port with meta as TXT records. An empty
// name falls back to one derived from the hostname.
func (a *Advertiser) Start(instanceName string, port int, meta map[string]string) error {
	if instanceName == "" {
		instanceName = defaultInstanceName()
	}

	txtRecords := make([]string, 0, len(meta))
	for k, v := range meta {
		txtRecords = append(txtRecords, k+"="+v)
	}

	server, err := zeroconf.Register(instanceName, ServiceType, Domain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
	}
	a.server = server
	return nil
}

func defaultInstanceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "packet-racers"
	}
	return "packet-racers-" + hostname
}

// Stop is safe to call when the advertiser never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse scans for services until ctx is done. The returned channel is
// closed when browsing ends; entries without an IPv4 address are skipped.
func (r *Resolver) Browse(ctx context.Context) (<-chan *ServiceInfo, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan *ServiceInfo, 10)

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse services: %w", err)
	}

	go func() {
		defer close(results)

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				info := toServiceInfo(entry)
				if len(info.IPs) == 0 {
					continue
				}
				logger.Sugar.Infof("[Discovery] discovered service: instance=%s ips=%v port=%d", info.InstanceName, info.IPs, info.Port)
				select {
				case results <- info:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results, nil
}

func toServiceInfo(entry *zeroconf.ServiceEntry) *ServiceInfo {
	info := &ServiceInfo{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          make([]string, 0, len(entry.AddrIPv4)),
		Meta:         make(map[string]string, len(entry.Text)),
	}
	for _, ip := range entry.AddrIPv4 {
		info.IPs = append(info.IPs, ip.String())
	}
	for _, record := range entry.Text {
		if k, v, ok := strings.Cut(record, "="); ok {
			info.Meta[k] = v
		}
	}
	return info
}
