// internal/session/store.go
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"agora/internal/agent"
)

const (
	// MaxHistorySize bounds the per-chat conversation ring.
	MaxHistorySize = 20
	// maxEntryLen caps stored history content; longer text is truncated with
	// a trailing ellipsis at write time.
	maxEntryLen = 1000

	failedPrefix = "FAILED_"
)

// HistoryEntry is one turn of the per-chat conversation log. Role is "user"
// or an agent name.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type snapshot struct {
	Sessions  map[string]map[string]string `json:"sessions"`
	LastAgent map[string]string            `json:"last_agent"`
	History   map[string][]HistoryEntry    `json:"history"`
}

// Store keeps per-chat agent session ids, the last active agent, and a
// bounded conversation history. Every mutation persists the full snapshot
// before returning.
type Store struct {
	mu   sync.Mutex
	path string

	sessions  map[int64]map[agent.Name]string
	lastAgent map[int64]agent.Name
	history   map[int64][]HistoryEntry
}

// Open loads the snapshot at path, starting empty if the file is missing or
// unreadable.
func Open(path string) *Store {
	s := &Store{
		path:      path,
		sessions:  make(map[int64]map[agent.Name]string),
		lastAgent: make(map[int64]agent.Name),
		history:   make(map[int64][]HistoryEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[session] load failed, starting empty: %v", err)
		}
		return s
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("[session] corrupt snapshot, starting empty: %v", err)
		return s
	}

	for k, agents := range snap.Sessions {
		chat, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		m := make(map[agent.Name]string, len(agents))
		for name, id := range agents {
			m[agent.Name(name)] = id
		}
		s.sessions[chat] = m
	}
	for k, name := range snap.LastAgent {
		if chat, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.lastAgent[chat] = agent.Name(name)
		}
	}
	for k, entries := range snap.History {
		if chat, err := strconv.ParseInt(k, 10, 64); err == nil {
			s.history[chat] = entries
		}
	}

	log.Printf("[session] loaded %d chat sessions, %d chat histories", len(s.sessions), len(s.history))
	return s
}

// persist writes the full snapshot. Callers must hold s.mu.
func (s *Store) persist() {
	snap := snapshot{
		Sessions:  make(map[string]map[string]string, len(s.sessions)),
		LastAgent: make(map[string]string, len(s.lastAgent)),
		History:   make(map[string][]HistoryEntry, len(s.history)),
	}
	for chat, agents := range s.sessions {
		m := make(map[string]string, len(agents))
		for name, id := range agents {
			m[string(name)] = id
		}
		snap.Sessions[strconv.FormatInt(chat, 10)] = m
	}
	for chat, name := range s.lastAgent {
		snap.LastAgent[strconv.FormatInt(chat, 10)] = string(name)
	}
	for chat, entries := range s.history {
		snap.History[strconv.FormatInt(chat, 10)] = entries
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Printf("[session] marshal failed: %v", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		log.Printf("[session] mkdir failed: %v", err)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Printf("[session] write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("[session] rename failed: %v", err)
	}
}

// Get returns the stored session id for the pair, "" if absent. Failed
// sentinels are returned as-is; use IsFailed to detect them.
func (s *Store) Get(chat int64, name agent.Name) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[chat][name]
}

// Set stores a session id for the pair and persists.
func (s *Store) Set(chat int64, name agent.Name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[chat] == nil {
		s.sessions[chat] = make(map[agent.Name]string)
	}
	s.sessions[chat][name] = id
	s.persist()
}

// Clear removes one agent's session, or all of the chat's sessions plus its
// last-agent record when name is empty.
func (s *Store) Clear(chat int64, name agent.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		delete(s.sessions[chat], name)
	} else {
		delete(s.sessions, chat)
		delete(s.lastAgent, chat)
	}
	s.persist()
}

// LastAgent returns the most recently used agent for the chat, "" if none.
func (s *Store) LastAgent(chat int64) agent.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAgent[chat]
}

// SetLastAgent records the most recently used agent and persists.
func (s *Store) SetLastAgent(chat int64, name agent.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAgent[chat] = name
	s.persist()
}

// AppendHistory adds one entry to the chat's ring, truncating long content
// and evicting the oldest entry past MaxHistorySize.
func (s *Store) AppendHistory(chat int64, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[chat] = append(s.history[chat], HistoryEntry{
		Role:    role,
		Content: Truncate(content),
	})
	if n := len(s.history[chat]); n > MaxHistorySize {
		s.history[chat] = s.history[chat][n-MaxHistorySize:]
	}
	s.persist()
}

// History returns the most recent limit entries in insertion order.
func (s *Store) History(chat int64, limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[chat]
	if limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	return append([]HistoryEntry(nil), entries...)
}

// ClearHistory drops the chat's conversation log and persists.
func (s *Store) ClearHistory(chat int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, chat)
	s.persist()
}

// Truncate applies the history content cap.
func Truncate(content string) string {
	runes := []rune(content)
	if len(runes) <= maxEntryLen {
		return content
	}
	return string(runes[:maxEntryLen]) + "..."
}

// FailedSentinel builds the marker stored when session-id extraction fails.
// It is treated as "no session" on the next call.
func FailedSentinel() string {
	return fmt.Sprintf("%s%d", failedPrefix, time.Now().Unix())
}

// IsFailed reports whether id is a failed-extraction sentinel.
func IsFailed(id string) bool {
	return strings.HasPrefix(id, failedPrefix)
}

// DefaultPath is the snapshot location under the user config dir.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil || configDir == "" {
		configDir = os.ExpandEnv("$HOME/.config")
	}
	return filepath.Join(configDir, "agora", "sessions.json")
}
