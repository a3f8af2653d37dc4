//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/cache"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/dataset"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/grist"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	BaseURL       string
	DocID         string
	TableID       string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless GRIST_API_KEY, GRIST_DOC_ID and GRIST_TABLE_ID are set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	cfg := IntegrationTestConfig{
		APIKey:        os.Getenv("GRIST_API_KEY"),
		BaseURL:       os.Getenv("GRIST_URL"),
		DocID:         os.Getenv("GRIST_DOC_ID"),
		TableID:       os.Getenv("GRIST_TABLE_ID"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
	}
	if cfg.APIKey == "" || cfg.DocID == "" || cfg.TableID == "" {
		t.Skip("GRIST_API_KEY, GRIST_DOC_ID or GRIST_TABLE_ID not set, skipping integration test")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = grist.DefaultBaseURL
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	return cfg
}

// SetupIntegrationClient creates a Grist client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *grist.Client {
	t.Helper()
	c, err := grist.NewClientWithRetry(cfg.APIKey, cfg.BaseURL, cfg.DocID, cfg.TableID, 10*time.Second, 2, 200*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("NewClientWithRetry() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a dataset service over a real Grist client.
// Falls back to the in-memory cache when memcached is requested but unreachable.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*dataset.Service, *grist.Client, func()) {
	t.Helper()
	client := SetupIntegrationClient(t, cfg)

	var cacheSvc cache.Cache = cache.NewInMemoryCache()
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2, time.Hour)
		if err == nil && mc.Ping() == nil {
			cacheSvc = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
		}
	}

	svc := dataset.NewService(client, cacheSvc, dataset.Config{
		Key:          client.Key(),
		CacheEnabled: true,
		TTL:          time.Minute,
		StaleTTL:     time.Hour,
	})
	return svc, client, cleanup
}
