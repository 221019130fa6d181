package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cuemby/warren/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteIDs_AreStable(t *testing.T) {
	assert.Equal(t, "svc-1-app.example.com-/", ServiceRouteID("svc-1", "app.example.com", "/"))
	assert.Equal(t, "svc-1-app.example.com-*", ServiceRouteID("svc-1", "app.example.com", ""))
	assert.Equal(t, "abc123-app.example.com", DeploymentRouteID("abc123", "app.example.com"))
	assert.Equal(t, "ghcr-mirror", RegistryRouteID("ghcr-mirror"))
}

func TestSynthesizeRoute_RedirectSkipsUpstream(t *testing.T) {
	u := &types.URLRoute{Domain: "old.example.com", RedirectTo: "https://new.example.com", RedirectPermanent: true}
	route := synthesizeRoute("route-1", u, "web-blue", false, "")

	assert.Equal(t, "https://new.example.com", route.RedirectTo)
	assert.True(t, route.RedirectPerm)
	assert.Empty(t, route.Upstream)
}

func TestSynthesizeRoute_UpstreamAddressesNetworkAlias(t *testing.T) {
	u := &types.URLRoute{Domain: "app.example.com", AssociatedPort: 8080}
	route := synthesizeRoute("route-2", u, "web-green", false, "")

	assert.Equal(t, "web-green:8080", route.Upstream)
	assert.Empty(t, route.RedirectTo)
}

func TestSynthesizeRoute_PreviewAuthOnlyWhenPreviewAndURLSet(t *testing.T) {
	u := &types.URLRoute{Domain: "pr-42.example.com", AssociatedPort: 3000}

	withAuth := synthesizeRoute("route-3", u, "web-blue", true, "/auth/verify")
	assert.Equal(t, "/auth/verify", withAuth.PreviewAuthPath)

	withoutPreview := synthesizeRoute("route-3", u, "web-blue", false, "/auth/verify")
	assert.Empty(t, withoutPreview.PreviewAuthPath)

	previewNoURL := synthesizeRoute("route-3", u, "web-blue", true, "")
	assert.Empty(t, previewNoURL.PreviewAuthPath)
}

func TestUpsertAndRemove(t *testing.T) {
	doc := &routesDoc{}
	upsert(doc, Route{ID: "a", Host: "a.example.com"})
	upsert(doc, Route{ID: "b", Host: "b.example.com"})
	require.Len(t, doc.Routes, 2)

	// Upsert with an existing ID replaces in place, not append.
	upsert(doc, Route{ID: "a", Host: "a2.example.com"})
	require.Len(t, doc.Routes, 2)
	assert.Equal(t, "a2.example.com", doc.Routes[0].Host)

	remove(doc, "a")
	require.Len(t, doc.Routes, 1)
	assert.Equal(t, "b", doc.Routes[0].ID)
}

func TestSortRoutes_SpecificityThenHostThenCatchAll(t *testing.T) {
	routes := []Route{
		{ID: "catch-all", Host: "", Path: ""},
		{ID: "api-star", Host: "api", Path: "*"},
		{ID: "host-star", Host: "", Path: "*"},
		{ID: "specific-b", Host: "b.example.com", Path: "/orders"},
		{ID: "specific-a", Host: "a.example.com", Path: "/orders"},
	}
	sortRoutes(routes)

	var order []string
	for _, r := range routes {
		order = append(order, r.ID)
	}
	assert.Equal(t, []string{"specific-a", "specific-b", "api-star", "host-star", "catch-all"}, order)
}

func TestBasicAuthHash_DeterministicPerPassword(t *testing.T) {
	a := BasicAuthHash("hunter2")
	b := BasicAuthHash("hunter2")
	c := BasicAuthHash("different")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

// fakeProxyServer serves a single in-memory routes document with ETag
// optimistic concurrency, mimicking the reverse proxy's admin API closely
// enough to exercise Client's read-modify-write cycle end to end.
func fakeProxyServer(t *testing.T, conflictsBeforeSuccess int32) (*httptest.Server, *int32) {
	t.Helper()
	var doc routesDoc
	var version int32
	var attempts int32

	mux := http.NewServeMux()
	mux.HandleFunc("/routes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", etagFor(version))
			_ = json.NewEncoder(w).Encode(doc)
		case http.MethodPatch:
			atomic.AddInt32(&attempts, 1)
			if r.Header.Get("If-Match") != etagFor(version) || atomic.LoadInt32(&attempts) <= conflictsBeforeSuccess {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			var incoming routesDoc
			_ = json.NewDecoder(r.Body).Decode(&incoming)
			doc = incoming
			version++
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return httptest.NewServer(mux), &attempts
}

func etagFor(version int32) string {
	return "v" + string(rune('0'+version))
}

func TestClient_UpsertPublicRoutes_RoundTrip(t *testing.T) {
	srv, _ := fakeProxyServer(t, 0)
	defer srv.Close()

	c := NewClient(srv.URL)
	urls := []*types.URLRoute{{Domain: "app.example.com", BasePath: "/", AssociatedPort: 8080}}

	require.NoError(t, c.UpsertPublicRoutes(context.Background(), "svc-1", urls, "web-blue"))

	doc, _, err := c.get(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.Routes, 1)
	assert.Equal(t, "web-blue:8080", doc.Routes[0].Upstream)
}

func TestClient_Mutate_RetriesOnConflictThenFails(t *testing.T) {
	srv, attempts := fakeProxyServer(t, int32(maxETagRetries)+5)
	defer srv.Close()

	c := NewClient(srv.URL)
	urls := []*types.URLRoute{{Domain: "app.example.com", AssociatedPort: 8080}}

	err := c.UpsertPublicRoutes(context.Background(), "svc-1", urls, "web-blue")
	require.Error(t, err)
	assert.Equal(t, int32(maxETagRetries), atomic.LoadInt32(attempts))
}
