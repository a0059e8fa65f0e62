package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRobotsPolicy(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	allowAll := NewRobotsPolicy(false, "catalog-crawler", nil, logger)
	require.True(t, allowAll.Allowed(ctx, "https://shop.example/private"))

	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprintln(w, "User-agent: *\nDisallow: /checkout")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	enforcer := NewRobotsPolicy(true, "catalog-crawler", srv.Client(), logger)
	require.True(t, enforcer.Allowed(ctx, srv.URL+"/women"))
	require.False(t, enforcer.Allowed(ctx, srv.URL+"/checkout/cart"))
	require.Equal(t, int32(1), robotsHits.Load(), "robots.txt should be cached per host")
}

func TestRobotsPolicyFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := srv.URL
	srv.Close()

	enforcer := NewRobotsPolicy(true, "catalog-crawler", nil, zap.NewNop())
	require.True(t, enforcer.Allowed(context.Background(), url+"/women"))
}
