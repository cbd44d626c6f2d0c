package reload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveVersionAppendsManifest(t *testing.T) {
	s := NewStore(t.TempDir())

	v1 := AdapterVersion{Provider: "p1", Version: 1, Source: SourceConfig{BaseURL: "https://a"}, Origin: OriginInitial, CreatedAt: time.Now()}
	v2 := AdapterVersion{Provider: "p1", Version: 2, Source: SourceConfig{BaseURL: "https://b"}, Origin: OriginHealedAuto, CreatedAt: time.Now()}

	require.NoError(t, s.SaveVersion(v1))
	require.NoError(t, s.SaveVersion(v2))

	manifest, err := s.LoadManifest("p1")
	require.NoError(t, err)
	require.Len(t, manifest, 2)
	assert.Equal(t, 1, manifest[0].Version)
	assert.Equal(t, 2, manifest[1].Version)
	assert.Equal(t, "https://b", manifest[1].Source.BaseURL)
}

func TestStore_LoadManifestMissingProviderReturnsEmpty(t *testing.T) {
	s := NewStore(t.TempDir())

	manifest, err := s.LoadManifest("nonexistent")
	require.NoError(t, err)
	assert.Empty(t, manifest)
}

func TestStore_PendingRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	pf := PendingFix{
		Provider: "p1", Status: PendingStatusPending, Source: SourceConfig{Model: "m1"},
		Confidence: 0.6, Rationale: "drift detected", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.SavePending(pf))

	loaded, ok := s.LoadPending("p1")
	require.True(t, ok)
	assert.Equal(t, pf.Provider, loaded.Provider)
	assert.Equal(t, pf.Rationale, loaded.Rationale)

	require.NoError(t, s.DeletePending("p1"))
	_, ok = s.LoadPending("p1")
	assert.False(t, ok)
}

func TestStore_DeletePendingMissingIsNotAnError(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.NoError(t, s.DeletePending("never-existed"))
}

func TestStore_AppendAuditWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.AppendAudit(AuditEntry{Provider: "p1", Event: "apply_commit", Version: 2}))
	require.NoError(t, s.AppendAudit(AuditEntry{Provider: "p1", Event: "apply_rollback", Version: 3, Details: "canary timed out"}))

	data, err := os.ReadFile(filepath.Join(dir, "heal_audit.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "apply_commit")
	assert.Contains(t, lines[1], "apply_rollback")
}
