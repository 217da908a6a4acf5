package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNameConflictRegisterRelease(t *testing.T) {
	r := openTestRegistry(t)

	conflict, err := r.NameConflict("ingest_0")
	require.NoError(t, err)
	assert.False(t, conflict)

	require.NoError(t, r.RegisterName("ingest_0"))

	conflict, err = r.NameConflict("ingest_0")
	require.NoError(t, err)
	assert.True(t, conflict)

	require.NoError(t, r.ReleaseName("ingest_0"))

	conflict, err = r.NameConflict("ingest_0")
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestAuditRecordsForRequestOrderedAndScoped(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.PutAuditRecord(AuditRecord{Request: "req1", Domain: "ingest", Service: "a", Iteration: 1, Event: "launch", Timestamp: 100}))
	require.NoError(t, r.PutAuditRecord(AuditRecord{Request: "req1", Domain: "ingest", Service: "a", Iteration: 2, Event: "launch", Timestamp: 200}))
	require.NoError(t, r.PutAuditRecord(AuditRecord{Request: "req2", Domain: "ingest", Service: "a", Iteration: 1, Event: "launch", Timestamp: 150}))

	records, err := r.AuditRecordsForRequest("ingest", "req1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(100), records[0].Timestamp)
	assert.Equal(t, int64(200), records[1].Timestamp)
}
