package agents

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tulparlabs/agentrun/types"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStore_SaveGetRoundTrip(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	def := validDef()
	require.NoError(t, s.Save(def))

	got, ok := s.Get("musteri-takip")
	require.True(t, ok)
	assert.Equal(t, "Müşteri Takip", got.AgentName)
	assert.Equal(t, "tulpar", got.Owner)

	// The file on disk is the canonical document.
	data, err := os.ReadFile(s.Path("musteri-takip"))
	require.NoError(t, err)
	var onDisk types.AgentDefinition
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, def.AgentID, onDisk.AgentID)
	assert.Len(t, onDisk.Workflows, 1)
}

func TestFileStore_SaveRejectsInvalidDefinition(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	def := validDef()
	def.Workflows[0].Nodes[0].Prompt = ""
	err := s.Save(def)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetCode(err))
	assert.False(t, s.Exists("musteri-takip"), "nothing is written for an invalid definition")
	assert.NoFileExists(t, s.Path("musteri-takip"))
}

func TestFileStore_SaveDefaultsOwner(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	def := validDef()
	def.Owner = ""
	require.NoError(t, s.Save(def))

	got, ok := s.Get("musteri-takip")
	require.True(t, ok)
	assert.Equal(t, DefaultOwner, got.Owner)
}

func TestFileStore_ListFiltersByOwner(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	a := validDef()
	a.AgentID = "ajan-a"
	a.Owner = "ayse"
	b := validDef()
	b.AgentID = "ajan-b"
	b.Owner = "burak"
	c := validDef()
	c.AgentID = "ajan-c"
	c.Owner = "ayse"
	for _, def := range []*types.AgentDefinition{b, c, a} {
		require.NoError(t, s.Save(def))
	}

	all := s.List("")
	require.Len(t, all, 3)
	assert.Equal(t, "ajan-a", all[0].AgentID, "list is sorted by agent id")
	assert.Equal(t, "ajan-c", all[2].AgentID)

	mine := s.List("ayse")
	require.Len(t, mine, 2)
	assert.Equal(t, "ajan-a", mine[0].AgentID)
	assert.Equal(t, "ajan-c", mine[1].AgentID)

	assert.Empty(t, s.List("cem"))
}

func TestFileStore_Delete(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	def := validDef()
	require.NoError(t, s.Save(def))
	require.NoError(t, s.Delete("musteri-takip"))

	assert.False(t, s.Exists("musteri-takip"))
	assert.NoFileExists(t, s.Path("musteri-takip"))

	err := s.Delete("musteri-takip")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetCode(err))
}

func TestFileStore_ReloadPicksUpExternalChanges(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	def := validDef()
	require.NoError(t, s.Save(def))

	// A second process drops in a new definition and removes the first.
	other := validDef()
	other.AgentID = "rapor-botu"
	data, err := json.MarshalIndent(other, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "rapor-botu.json"), data, 0o644))
	require.NoError(t, os.Remove(s.Path("musteri-takip")))

	require.NoError(t, s.Reload())
	assert.False(t, s.Exists("musteri-takip"))
	assert.True(t, s.Exists("rapor-botu"))
}

func TestFileStore_ReloadSkipsBrokenFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	good := validDef()
	data, err := json.MarshalIndent(good, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "musteri-takip.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bozuk.json"), []byte("{kırık json"), 0o644))
	// Valid JSON whose file name disagrees with its agentId.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yanlis-ad.json"), data, 0o644))
	// Hidden and non-JSON files are ignored outright.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gizli.json"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notlar.txt"), []byte("x"), 0o644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Stats().TotalAgents, "only the well-formed matching file is indexed")
	assert.True(t, s.Exists("musteri-takip"))
}

func TestFileStore_StatsCountsByOwner(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	a := validDef()
	a.AgentID = "a1"
	a.Owner = "ayse"
	b := validDef()
	b.AgentID = "b1"
	b.Owner = ""
	require.NoError(t, s.Save(a))
	require.NoError(t, s.Save(b))

	stats := s.Stats()
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, map[string]int{"ayse": 1, DefaultOwner: 1}, stats.ByOwner)
	assert.Equal(t, s.Dir(), stats.Dir)
}

func TestFileStore_SaveOverwritesPreviousVersion(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	def := validDef()
	require.NoError(t, s.Save(def))

	updated := validDef()
	updated.AgentName = "Müşteri Takip v2"
	updated.Version = "2.0.0"
	require.NoError(t, s.Save(updated))

	got, ok := s.Get("musteri-takip")
	require.True(t, ok)
	assert.Equal(t, "Müşteri Takip v2", got.AgentName)
	assert.Equal(t, "2.0.0", got.Version)
	assert.Equal(t, 1, s.Stats().TotalAgents)
}
