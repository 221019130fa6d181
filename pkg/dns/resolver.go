package dns

import (
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/storage"
	"github.com/cuemby/warren/pkg/types"
	"github.com/miekg/dns"
)

// Resolver resolves a queried name to the running container IPs behind a
// swarm service. The name is looked up as a deployment hash (see
// swarmServicesByAlias); its only caller in this module is Server.
type Resolver struct {
	store    storage.Store
	domain   string   // search domain, e.g. "internal"
	upstream []string // upstream DNS servers for external queries
	rnd      *rand.Rand
}

// NewResolver creates a new Resolver.
func NewResolver(store storage.Store, domain string, upstream []string) *Resolver {
	return &Resolver{
		store:    store,
		domain:   domain,
		upstream: upstream,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Resolve resolves a DNS query name to resource records.
func (r *Resolver) Resolve(queryName string) ([]dns.RR, error) {
	name := strings.TrimSuffix(queryName, ".")

	log.Logger.Debug().
		Str("component", "dns.resolver").
		Str("query", name).
		Msg("resolving DNS query")

	ips, err := r.ResolveAlias(r.stripDomain(name))
	if err != nil {
		return nil, err
	}

	r.shuffleIPs(ips)
	fqdn := r.makeFQDN(name)
	records := make([]dns.RR, 0, len(ips))
	for _, ip := range ips {
		records = append(records, &dns.A{
			Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 10},
			A:   ip,
		})
	}
	return records, nil
}

// ResolveAlias returns the container IPs of every running task of the swarm
// service that swarmServicesByAlias finds for alias.
func (r *Resolver) ResolveAlias(alias string) ([]net.IP, error) {
	svcs, err := r.swarmServicesByAlias(alias)
	if err != nil {
		return nil, err
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("alias not resolvable: %s", alias)
	}

	var ips []net.IP
	for _, svc := range svcs {
		tasks, err := r.store.ListTasksByDeploymentHash(svc.DeploymentHash)
		if err != nil {
			continue
		}
		for _, t := range tasks {
			if t.ActualState != types.TaskRunning || t.ContainerIP == "" {
				continue
			}
			if ip := net.ParseIP(t.ContainerIP); ip != nil {
				ips = append(ips, ip)
			}
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no running instances behind alias: %s", alias)
	}
	return ips, nil
}

// swarmServicesByAlias finds the swarm service for alias. storage.Store has
// no list-all for swarm services, so alias is looked up as a deployment hash
// directly; a name that is not a stored deployment hash is not resolvable,
// and the stored services' Aliases are not consulted.
func (r *Resolver) swarmServicesByAlias(alias string) ([]*types.SwarmService, error) {
	if svc, err := r.store.GetSwarmServiceByDeploymentHash(alias); err == nil {
		return []*types.SwarmService{svc}, nil
	}
	return nil, fmt.Errorf("alias lookup requires a resolvable deployment hash: %s", alias)
}

func (r *Resolver) stripDomain(name string) string {
	suffix := "." + r.domain
	return strings.TrimSuffix(name, suffix)
}

func (r *Resolver) makeFQDN(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

func (r *Resolver) shuffleIPs(ips []net.IP) {
	r.rnd.Shuffle(len(ips), func(i, j int) {
		ips[i], ips[j] = ips[j], ips[i]
	})
}
