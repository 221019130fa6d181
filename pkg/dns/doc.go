/*
Package dns implements an embedded, Docker-compatible service discovery DNS
server, resolving a service's stable network alias to the container IPs of
its currently-running tasks.

# Architecture

	Query: <alias>.warren (or bare <alias>)
	  |
	  v
	Server (127.0.0.11:53) -> Resolver.Resolve
	  |
	  +-- alias known  -> swarm service lookup -> running tasks -> shuffled A records (TTL 10s)
	  +-- alias unknown -> forwarded to upstream (e.g. 8.8.8.8:53)

Warren assigns every Service a NetworkAlias that survives blue/green slot
flips (spec.md §4.2.3 step 12): the DNS name a caller uses never changes
across a deployment, only the set of IPs behind it does.

# Core components

Server: owns the UDP/TCP listener and dispatches to Resolver, forwarding
anything outside the configured domain to upstream DNS.

Resolver: looks up the swarm service carrying an alias, lists its running
tasks via storage.Store.ListTasksByDeploymentHash, and returns one A record
per task with a non-empty ContainerIP. IPs are shuffled per query for
client-side load balancing; TTL is kept short (10s) so scale and rollout
changes propagate quickly.

# Known limitation

storage.Store has no list-all-swarm-services call, so a queried name is
not matched against service aliases: swarmServicesByAlias treats it as a
deployment hash directly, and a name that is not one is forwarded
upstream. The health poller and the http_path healthcheck do not go
through this resolver; they address a deployment by its network alias
directly (pkg/health/poller.go).

# Usage

	store, _ := storage.NewBoltStore(dataDir)
	resolver := dns.NewResolver(store, "warren", []string{"8.8.8.8:53"})
	ips, err := resolver.ResolveAlias("web")

	server := dns.NewServer(store, &dns.Config{Domain: "warren"})
	go server.Start(ctx)

# See also

  - pkg/proxy for HTTP-level routing to the same service aliases
  - pkg/health for the http_path healthcheck that resolves an alias to
    reach a container directly
  - pkg/storage for task/swarm-service persistence
*/
package dns
