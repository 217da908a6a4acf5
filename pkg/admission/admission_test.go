package admission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shambakey1/vifinode/pkg/manifest"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
	"github.com/shambakey1/vifinode/pkg/vifierrors"
)

func testSite(domain *siteconfig.Domain) *siteconfig.Site {
	return &siteconfig.Site{
		Domains: map[string]*siteconfig.Domain{"ingest": domain},
	}
}

func TestAdmitRejectsDisallowedImage(t *testing.T) {
	site := testSite(&siteconfig.Domain{
		Docker: siteconfig.DockerPolicy{
			Images:  siteconfig.ImageAllowList{Images: []string{"alpine"}},
			Replica: siteconfig.IntOrAny{Any: true},
			TTL:     siteconfig.IntOrAny{Any: true},
		},
	})
	m := &manifest.Manifest{Services: map[string]*manifest.Service{
		"a": {Image: "busybox", Tasks: 1, SerCheckThr: 60},
	}}

	_, err := Admit(site, "ingest", t.TempDir(), m, "a")
	var admErr *vifierrors.AdmissionError
	require.ErrorAs(t, err, &admErr)
}

func TestAdmitRequiresInputFiles(t *testing.T) {
	dir := t.TempDir()
	site := testSite(&siteconfig.Domain{
		Docker: siteconfig.DockerPolicy{
			Images:  siteconfig.ImageAllowList{Any: true},
			Replica: siteconfig.IntOrAny{Any: true},
			TTL:     siteconfig.IntOrAny{Any: true},
		},
	})
	m := &manifest.Manifest{Services: map[string]*manifest.Service{
		"a": {
			Image: "busybox", Tasks: 1, SerCheckThr: 60,
			Dependencies: manifest.Dependencies{Files: map[string]string{"input.csv": "f"}},
		},
	}}

	_, err := Admit(site, "ingest", dir, m, "a")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.csv"), []byte("x"), 0o644))
	decision, err := Admit(site, "ingest", dir, m, "a")
	require.NoError(t, err)
	assert.False(t, decision.Deferred)
}

func TestAdmitDefersOnUnfinishedPredecessor(t *testing.T) {
	dir := t.TempDir()
	site := testSite(&siteconfig.Domain{
		Docker: siteconfig.DockerPolicy{
			Images:  siteconfig.ImageAllowList{Any: true},
			Replica: siteconfig.IntOrAny{Any: true},
			TTL:     siteconfig.IntOrAny{Any: true},
		},
	})
	m := &manifest.Manifest{Services: map[string]*manifest.Service{
		"a": {Image: "busybox", Tasks: 1, SerCheckThr: 60, Iterative: manifest.Iterative{MaxRep: manifest.IntOrInf{Value: 2}, CurIter: 0}},
		"b": {Image: "busybox", Tasks: 1, SerCheckThr: 60, Dependencies: manifest.Dependencies{Ser: []string{"a"}}},
	}}

	decision, err := Admit(site, "ingest", dir, m, "b")
	require.NoError(t, err)
	assert.True(t, decision.Deferred)
	assert.Equal(t, "a", decision.Waiting)

	m.Services["a"].Iterative.CurIter = 2
	decision, err = Admit(site, "ingest", dir, m, "b")
	require.NoError(t, err)
	assert.False(t, decision.Deferred)
}

func TestAdmitClampsReplicasAndTTL(t *testing.T) {
	dir := t.TempDir()
	site := testSite(&siteconfig.Domain{
		Docker: siteconfig.DockerPolicy{
			Images:  siteconfig.ImageAllowList{Any: true},
			Replica: siteconfig.IntOrAny{Value: 2},
			TTL:     siteconfig.IntOrAny{Value: 30},
		},
	})
	m := &manifest.Manifest{Services: map[string]*manifest.Service{
		"a": {Image: "busybox", Tasks: 10, SerCheckThr: 9999},
	}}

	decision, err := Admit(site, "ingest", dir, m, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, decision.Replicas)
	assert.Equal(t, 30, decision.TTLSecs)
}
