package audit

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/shambakey1/vifinode/pkg/registry"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
)

func testSite(t *testing.T, middlewareURL string) *siteconfig.Site {
	t.Helper()
	root := t.TempDir()
	var mw *siteconfig.MiddlewareConfig
	if middlewareURL != "" {
		mw = &siteconfig.MiddlewareConfig{URL: middlewareURL}
	}
	return &siteconfig.Site{
		RootPath:   root,
		LogDirName: "logs",
		Middleware: mw,
	}
}

func TestRecordWritesOutLogAndStructuredLog(t *testing.T) {
	site := testSite(t, "")
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	logger := NewLogger(site, reg)
	logger.Record("ingest", "req1", "a", 1, "launched", "info", 1234)

	outLog, err := os.ReadFile(filepath.Join(site.RootPath, "logs", "ingest", "out.log"))
	require.NoError(t, err)
	assert.Contains(t, string(outLog), "1234:launched")

	structured, err := os.ReadFile(filepath.Join(site.RootPath, "logs", "ingest", "req1.log.yml"))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, yaml.Unmarshal(trimDocSeparator(structured), &rec))
	assert.Equal(t, "req1", rec.Request)
	assert.Equal(t, "a", rec.Service)
	assert.Equal(t, 1, rec.Iteration)

	records, err := reg.AuditRecordsForRequest("ingest", "req1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "launched", records[0].Event)
}

func TestRecordPostsToMiddleware(t *testing.T) {
	received := make(chan Record, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec Record
		_ = yaml.NewDecoder(r.Body).Decode(&rec)
		received <- rec
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	site := testSite(t, server.URL)
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	logger := NewLogger(site, reg)
	logger.Record("ingest", "req1", "a", 1, "launched", "info", 1234)

	select {
	case rec := <-received:
		assert.Equal(t, "launched", rec.Event)
	default:
		t.Fatal("middleware did not receive a POST")
	}
}

func trimDocSeparator(b []byte) []byte {
	s := string(b)
	for len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	return []byte(s)
}
