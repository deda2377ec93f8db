package agents

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/types"
)

// DefaultOwner is assigned to definitions saved without an owner.
const DefaultOwner = "system"

// FileStore keeps agent definitions as one JSON file per agent under a
// root directory, with an in-memory index rebuilt at startup and on
// Reload. Definitions handed out by Get and List are shared, treat them
// as read-only; Save replaces the whole document.
type FileStore struct {
	mu     sync.RWMutex
	dir    string
	agents map[string]*types.AgentDefinition
	logger *zap.Logger
}

// StoreOption configures a FileStore.
type StoreOption func(*FileStore)

// WithStoreLogger sets the logger. Defaults to a no-op logger.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileStore opens (creating if needed) the agents directory and
// indexes every definition in it. Files that fail to parse or validate
// are logged and skipped so one broken definition cannot take down the
// rest.
func NewFileStore(dir string, opts ...StoreOption) (*FileStore, error) {
	s := &FileStore{
		dir:    dir,
		agents: make(map[string]*types.AgentDefinition),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "agent_store"))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewError(types.ErrStore, "create agents directory").WithCause(err)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the root directory definitions are stored under.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file an agent id maps to.
func (s *FileStore) Path(agentID string) string {
	return filepath.Join(s.dir, agentID+".json")
}

// Save validates the definition and writes it to disk, replacing any
// previous version. An empty owner becomes DefaultOwner. The write goes
// through a temp file and rename so watchers never observe a torn file.
func (s *FileStore) Save(def *types.AgentDefinition) error {
	if def == nil {
		return types.NewError(types.ErrValidation, "agent definition is nil")
	}
	if def.Owner == "" {
		def.Owner = DefaultOwner
	}
	if err := Validate(def); err != nil {
		return err
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return types.NewError(types.ErrStore, "encode agent definition").WithCause(err)
	}
	data = append(data, '\n')

	path := s.Path(def.AgentID)
	tmp, err := os.CreateTemp(s.dir, "."+def.AgentID+"-*.tmp")
	if err != nil {
		return types.NewError(types.ErrStore, "create temp file").WithCause(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewError(types.ErrStore, "write agent definition").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewError(types.ErrStore, "close temp file").WithCause(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return types.NewError(types.ErrStore, "replace agent file").WithCause(err)
	}

	s.mu.Lock()
	s.agents[def.AgentID] = def
	s.mu.Unlock()

	s.logger.Info("agent saved",
		zap.String("agent_id", def.AgentID),
		zap.String("owner", def.Owner),
		zap.String("path", path))
	return nil
}

// Get returns the indexed definition for an agent id.
func (s *FileStore) Get(agentID string) (*types.AgentDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.agents[agentID]
	return def, ok
}

// Exists reports whether an agent id is indexed.
func (s *FileStore) Exists(agentID string) bool {
	_, ok := s.Get(agentID)
	return ok
}

// List returns definitions sorted by agent id. A non-empty owner
// restricts the result to that owner's agents.
func (s *FileStore) List(owner string) []*types.AgentDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*types.AgentDefinition, 0, len(s.agents))
	for _, def := range s.agents {
		if owner != "" && def.Owner != owner {
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].AgentID < defs[j].AgentID })
	return defs
}

// Delete removes the agent's file and index entry.
func (s *FileStore) Delete(agentID string) error {
	s.mu.Lock()
	_, ok := s.agents[agentID]
	if ok {
		delete(s.agents, agentID)
	}
	s.mu.Unlock()
	if !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("unknown agent %q", agentID))
	}

	if err := os.Remove(s.Path(agentID)); err != nil && !os.IsNotExist(err) {
		return types.NewError(types.ErrStore, "delete agent file").WithCause(err)
	}
	s.logger.Info("agent deleted", zap.String("agent_id", agentID))
	return nil
}

// Reload rescans the directory and rebuilds the index from scratch.
// Agents whose files disappeared drop out; edited files are re-read.
func (s *FileStore) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return types.NewError(types.ErrStore, "read agents directory").WithCause(err)
	}

	agents := make(map[string]*types.AgentDefinition)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		def, err := s.readFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping agent file", zap.String("file", name), zap.Error(err))
			continue
		}
		if prev, dup := agents[def.AgentID]; dup {
			s.logger.Warn("duplicate agent id across files",
				zap.String("agent_id", def.AgentID),
				zap.String("kept", prev.AgentID+".json"),
				zap.String("skipped", name))
			continue
		}
		agents[def.AgentID] = def
	}

	s.mu.Lock()
	s.agents = agents
	s.mu.Unlock()

	s.logger.Info("agents indexed", zap.Int("count", len(agents)))
	return nil
}

// Stats summarizes the indexed definitions.
func (s *FileStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		TotalAgents: len(s.agents),
		ByOwner:     make(map[string]int),
		Dir:         s.dir,
	}
	for _, def := range s.agents {
		stats.ByOwner[def.Owner]++
	}
	return stats
}

// StoreStats is the shape returned by Stats.
type StoreStats struct {
	TotalAgents int            `json:"total_agents"`
	ByOwner     map[string]int `json:"agents_by_owner"`
	Dir         string         `json:"agents_directory"`
}

func (s *FileStore) readFile(path string) (*types.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def types.AgentDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if def.Owner == "" {
		def.Owner = DefaultOwner
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	if base := strings.TrimSuffix(filepath.Base(path), ".json"); base != def.AgentID {
		return nil, fmt.Errorf("file name %q does not match agentId %q", base, def.AgentID)
	}
	return &def, nil
}
