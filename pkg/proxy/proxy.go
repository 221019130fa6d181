/*
Package proxy implements the Reverse-Proxy Configurator (C2): a stateless
adapter over a remote proxy admin API that addresses route objects by
opaque @id and uses optimistic concurrency (ETag / If-Match) for every
write (spec.md §4.3).
*/
package proxy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/types"
)

// maxETagRetries bounds the read-modify-write retry loop on 412.
const maxETagRetries = 3

// Route is one entry in the proxy's routing document.
type Route struct {
	ID              string            `json:"@id"`
	Host            string            `json:"host"`
	Path            string            `json:"path"`
	StripPrefix     bool              `json:"strip_prefix,omitempty"`
	BasicAuthHash   string            `json:"basic_auth_hash,omitempty"`
	RedirectTo      string            `json:"redirect_to,omitempty"`
	RedirectPerm    bool              `json:"redirect_permanent,omitempty"`
	Upstream        string            `json:"upstream,omitempty"`
	PreviewAuthPath string            `json:"preview_auth_path,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
}

// Client talks to the proxy admin API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client against the proxy's admin API base URL.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type routesDoc struct {
	Routes []Route `json:"routes"`
}

// get fetches the current routes document along with its ETag.
func (c *Client) get(ctx context.Context) (*routesDoc, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/routes", nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fatal(proxy unreachable): %w", err)
	}
	defer resp.Body.Close()

	var doc routesDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, "", fmt.Errorf("fatal(proxy decode): %w", err)
	}
	return &doc, resp.Header.Get("ETag"), nil
}

// put writes routes with If-Match: etag, returning errPreconditionFailed on
// 412 (mutate reports etag_conflict once its attempts are used up).
func (c *Client) put(ctx context.Context, doc *routesDoc, etag string) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("fatal(marshal routes): %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/routes", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("If-Match", etag)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fatal(proxy unreachable): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return errPreconditionFailed
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fatal(proxy write rejected): status %s", resp.Status)
	}
	return nil
}

var errPreconditionFailed = fmt.Errorf("precondition failed")

// mutate performs a read-modify-write cycle against the routes document,
// retrying on ETag conflict up to maxETagRetries times.
func (c *Client) mutate(ctx context.Context, fn func(*routesDoc) error) error {
	logger := log.WithComponent("proxy")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProxyRouteSyncDuration)

	var lastErr error
	for attempt := 0; attempt < maxETagRetries; attempt++ {
		doc, etag, err := c.get(ctx)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		sortRoutes(doc.Routes)

		err = c.put(ctx, doc, etag)
		if err == nil {
			return nil
		}
		if err != errPreconditionFailed {
			return err
		}
		lastErr = err
		metrics.ProxyRouteSyncConflictsTotal.Inc()
		logger.Warn().Int("attempt", attempt+1).Msg("proxy write conflict, retrying")
	}
	return fmt.Errorf("etag_conflict: %w", lastErr)
}

// ServiceRouteID is the stable identity of a public service URL.
func ServiceRouteID(serviceID, domain, basePath string) string {
	return fmt.Sprintf("%s-%s-%s", serviceID, domain, normalizeBasePath(basePath))
}

// DeploymentRouteID is the stable identity of a per-deployment preview route.
func DeploymentRouteID(deploymentHash, domain string) string {
	return fmt.Sprintf("%s-%s", deploymentHash, domain)
}

// RegistryRouteID is the stable identity of a build-registry route.
func RegistryRouteID(registryAlias string) string {
	return registryAlias
}

func normalizeBasePath(p string) string {
	if p == "" {
		return "*"
	}
	return p
}

// UpsertDeploymentRoutes creates or updates the per-deployment preview
// routes for every URL the service declares (spec.md §4.2.3 step 13),
// always addressing the given network alias (the new deployment's slot
// alias, never the service's stable alias).
func (c *Client) UpsertDeploymentRoutes(ctx context.Context, deploymentHash string, urls []*types.URLRoute, networkAlias string, preview bool, previewAuthURL string) error {
	return c.mutate(ctx, func(doc *routesDoc) error {
		for _, u := range urls {
			route := synthesizeRoute(DeploymentRouteID(deploymentHash, u.Domain), u, networkAlias, preview, previewAuthURL)
			upsert(doc, route)
		}
		return nil
	})
}

// RemoveDeploymentRoutes removes a deployment's per-deployment preview
// routes (used on compensation and on successful production cleanup).
func (c *Client) RemoveDeploymentRoutes(ctx context.Context, deploymentHash string, urls []*types.URLRoute) error {
	return c.mutate(ctx, func(doc *routesDoc) error {
		for _, u := range urls {
			remove(doc, DeploymentRouteID(deploymentHash, u.Domain))
		}
		return nil
	})
}

// UpsertPublicRoutes switches each public URL to address the new
// deployment's network alias: the blue/green "commit point" (spec.md
// §4.2.3 step 15).
func (c *Client) UpsertPublicRoutes(ctx context.Context, serviceID string, urls []*types.URLRoute, networkAlias string) error {
	return c.mutate(ctx, func(doc *routesDoc) error {
		for _, u := range urls {
			route := synthesizeRoute(ServiceRouteID(serviceID, u.Domain, u.BasePath), u, networkAlias, false, "")
			upsert(doc, route)
		}
		return nil
	})
}

// RemovePublicRoutes unexposes every public URL (service archival,
// spec.md §4.9).
func (c *Client) RemovePublicRoutes(ctx context.Context, serviceID string, urls []*types.URLRoute) error {
	return c.mutate(ctx, func(doc *routesDoc) error {
		for _, u := range urls {
			remove(doc, ServiceRouteID(serviceID, u.Domain, u.BasePath))
		}
		return nil
	})
}

func synthesizeRoute(id string, u *types.URLRoute, networkAlias string, preview bool, previewAuthURL string) Route {
	route := Route{
		ID:          id,
		Host:        u.Domain,
		Path:        normalizeBasePath(u.BasePath),
		StripPrefix: u.StripPrefix,
		ResponseHeaders: map[string]string{
			"X-Zane-Request-Id": "{http.request.uuid}",
			"X-Zane-Dpl-Hash":   id,
			"X-Zane-Dpl-Slot":   networkAlias,
		},
	}

	if u.RedirectTo != "" {
		route.RedirectTo = u.RedirectTo
		route.RedirectPerm = u.RedirectPermanent
		return route
	}

	route.Upstream = fmt.Sprintf("%s:%d", networkAlias, u.AssociatedPort)
	if preview && previewAuthURL != "" {
		route.PreviewAuthPath = previewAuthURL
	}
	return route
}

// BasicAuthHash computes the stored password hash for a preview
// environment's HTTP-basic credential, recomputed on every upsert.
func BasicAuthHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func upsert(doc *routesDoc, route Route) {
	for i, r := range doc.Routes {
		if r.ID == route.ID {
			doc.Routes[i] = route
			return
		}
	}
	doc.Routes = append(doc.Routes, route)
}

func remove(doc *routesDoc, id string) {
	filtered := doc.Routes[:0]
	for _, r := range doc.Routes {
		if r.ID != id {
			filtered = append(filtered, r)
		}
	}
	doc.Routes = filtered
}

// catchAllOrder pushes well-known catch-all routes to the end of the
// list, independent of write order (spec.md §4.3 tertiary sort key).
func catchAllOrder(r Route) int {
	switch {
	case r.Path == "*" && r.Host == "api":
		return 1
	case r.Path == "*" && r.Host == "":
		return 2
	case r.Host == "" && r.Path == "":
		return 3
	default:
		return 0
	}
}

// sortRoutes replicates the upstream proxy's directive sort: path
// specificity first, then host, then the catch-all tiebreaker.
func sortRoutes(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]

		aSpecific := specificity(a.Path)
		bSpecific := specificity(b.Path)
		if aSpecific != bSpecific {
			return aSpecific > bSpecific
		}

		if a.Host != b.Host {
			return a.Host < b.Host
		}

		return catchAllOrder(a) < catchAllOrder(b)
	})
}

// specificity scores a path for sorting: longer non-wildcard prefixes
// come first, non-wildcard before wildcard.
func specificity(path string) int {
	if path == "*" || path == "" {
		return 0
	}
	score := len(path) * 2
	if !strings.HasSuffix(path, "*") {
		score++
	}
	return score
}
