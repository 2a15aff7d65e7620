// internal/markup/writer.go
package markup

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingExpiry is how long an unapproved write request stays claimable.
const pendingExpiry = time.Hour

// PendingWrite is a write request awaiting human approval.
type PendingWrite struct {
	FileWrite
	CreatedAt time.Time
}

// PendingWrites holds extracted write requests keyed by short keys suitable
// for transport callback payloads. Expired entries are swept on Add.
type PendingWrites struct {
	mu      sync.Mutex
	entries map[string]PendingWrite
	now     func() time.Time
}

func NewPendingWrites() *PendingWrites {
	return &PendingWrites{
		entries: make(map[string]PendingWrite),
		now:     time.Now,
	}
}

// Add registers a write request and returns its short key.
func (p *PendingWrites) Add(w FileWrite) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweep()

	// Transport callback payloads are tiny (Telegram caps them at 64
	// bytes), so an 8-hex key is used instead of the full UUID.
	key := uuid.New().String()[:8]
	p.entries[key] = PendingWrite{FileWrite: w, CreatedAt: p.now()}
	return key
}

// Take removes and returns the request for key.
func (p *PendingWrites) Take(key string) (PendingWrite, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	return w, ok
}

// Discard drops the request for key if present.
func (p *PendingWrites) Discard(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
}

func (p *PendingWrites) sweep() {
	cutoff := p.now().Add(-pendingExpiry)
	for key, w := range p.entries {
		if w.CreatedAt.Before(cutoff) {
			delete(p.entries, key)
			log.Printf("[markup] expired pending write %s (%s)", key, w.Path)
		}
	}
}

// WriteApproved resolves path against root and writes content, rejecting any
// path that escapes the root.
func WriteApproved(root string, w FileWrite) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}

	target := filepath.Join(absRoot, w.Path)
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolve target path: %w", err)
	}

	if absTarget != absRoot && !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes project root", w.Path)
	}

	if err := os.MkdirAll(filepath.Dir(absTarget), 0755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(absTarget, []byte(w.Content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", w.Path, err)
	}

	log.Printf("[markup] wrote %s (%d bytes)", w.Path, len(w.Content))
	return nil
}

// Preview returns the first n lines of content for approval prompts.
func Preview(content string, n int) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}
