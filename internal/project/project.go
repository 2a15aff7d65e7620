// internal/project/project.go
package project

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultTreeDepth bounds the structure snippet handed to agents.
	DefaultTreeDepth = 3
	// maxListedFiles caps the fallback flat listing.
	maxListedFiles = 20
)

// Info describes the configured project root.
type Info struct {
	Root        string
	IncludeTree bool
	TreeDepth   int
}

func New(root string) Info {
	if root == "" {
		root, _ = os.Getwd()
	}
	return Info{Root: root, IncludeTree: true, TreeDepth: DefaultTreeDepth}
}

// Context renders the project-information block prefixed to first-round
// prompts. Empty when tree inclusion is disabled.
func (p Info) Context() string {
	if !p.IncludeTree {
		return ""
	}
	return fmt.Sprintf("[Project info]\nWorking directory: %s\n\nProject structure:\n```\n%s```\n",
		p.Root, p.Tree())
}

// Tree returns the directory structure, preferring the external tree command
// and degrading to a flat walk.
func (p Info) Tree() string {
	if out, err := p.treeCommand(); err == nil {
		return out
	}
	return p.walkTree()
}

func (p Info) treeCommand() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "tree",
		"-L", fmt.Sprint(p.TreeDepth),
		"-I", "node_modules|vendor|__pycache__|.git|dist|target",
		p.Root)
	out, err := cmd.Output()
	if err != nil {
		log.Printf("[project] tree command unavailable: %v", err)
		return "", err
	}
	return string(out), nil
}

// walkTree lists regular files up to the depth limit, capped.
func (p Info) walkTree() string {
	var files []string
	root := filepath.Clean(p.Root)

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") || excludedDir(name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		depth := strings.Count(rel, string(filepath.Separator))
		if d.IsDir() {
			if depth >= p.TreeDepth {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, rel)
		return nil
	})

	sort.Strings(files)
	if len(files) > maxListedFiles {
		files = files[:maxListedFiles]
	}
	if len(files) == 0 {
		return "(no files)\n"
	}
	return strings.Join(files, "\n") + "\n"
}

// ListEntries renders a sorted ls-style listing of the project root, with
// directory and executable markers.
func (p Info) ListEntries() (string, error) {
	entries, err := os.ReadDir(p.Root)
	if err != nil {
		return "", fmt.Errorf("read project root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			name += "/"
		default:
			if info, err := e.Info(); err == nil && info.Mode()&0111 != 0 {
				name += "*"
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func excludedDir(name string) bool {
	switch name {
	case "node_modules", "vendor", "__pycache__", "target", "build", "dist", "venv":
		return true
	}
	return false
}
