// internal/runner/runner.go
package runner

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"agora/internal/agent"
	"agora/internal/session"
)

const sessionPlaceholder = "{session_id}"

// stderr lines dropped before the stderr-fallback output path.
var noiseMarkers = []string{
	"Loaded cached credentials",
	"DeprecationWarning",
}

var codexSessionPattern = regexp.MustCompile(`(?i)session id:\s+([a-f0-9-]+)`)
var listedSessionPattern = regexp.MustCompile(`\[([a-f0-9-]+)\]`)

type pairKey struct {
	chat int64
	name agent.Name
}

// Runner executes agent CLI subprocesses with session lifecycle, activity
// timeouts, and kill-on-demand. Calls for the same (chat, agent) pair are
// serialized; distinct pairs run fully concurrently.
type Runner struct {
	registry *agent.Registry
	store    *session.Store

	workDir      string
	proxyURL     string
	idleTimeout  time.Duration
	totalTimeout time.Duration
	pollInterval time.Duration

	lockMu sync.Mutex
	locks  map[pairKey]*sync.Mutex

	procMu sync.Mutex
	procs  map[pairKey]*exec.Cmd
}

// Options configures a Runner. Zero-value durations get defaults matching
// long agent calls (20 min idle, 30 min total).
type Options struct {
	WorkDir      string
	ProxyURL     string
	IdleTimeout  time.Duration
	TotalTimeout time.Duration
}

func New(registry *agent.Registry, store *session.Store, opts Options) *Runner {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 20 * time.Minute
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = 30 * time.Minute
	}
	if opts.WorkDir == "" {
		opts.WorkDir, _ = os.Getwd()
	}
	return &Runner{
		registry:     registry,
		store:        store,
		workDir:      opts.WorkDir,
		proxyURL:     opts.ProxyURL,
		idleTimeout:  opts.IdleTimeout,
		totalTimeout: opts.TotalTimeout,
		pollInterval: 250 * time.Millisecond,
		locks:        make(map[pairKey]*sync.Mutex),
		procs:        make(map[pairKey]*exec.Cmd),
	}
}

func (r *Runner) pairLock(key pairKey) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if r.locks[key] == nil {
		r.locks[key] = &sync.Mutex{}
	}
	return r.locks[key]
}

// Invoke runs one agent call for the chat. ctx cancellation maps to the
// Cancelled outcome and kills the subprocess.
func (r *Runner) Invoke(ctx context.Context, name agent.Name, chat int64, prompt string) Result {
	desc, ok := r.registry.Get(name)
	if !ok {
		return Result{Outcome: Error, Text: "unknown agent: " + string(name)}
	}

	key := pairKey{chat, name}
	lock := r.pairLock(key)
	lock.Lock()
	defer lock.Unlock()

	cmd, sessionID, firstCall := r.buildCommand(desc, chat)
	cmd = append(cmd, prompt)

	res, stdout, stderr := r.execute(ctx, desc, key, cmd)
	if res.Outcome == Cancelled || res.Outcome == Timeout {
		return res
	}
	if res.Outcome == Error {
		if isSessionExpired(res.Text) {
			r.store.Clear(chat, name)
			return Result{Outcome: SessionExpired}
		}
		return res
	}

	output := filterOutput(stdout, stderr)
	if output == "" {
		return Result{Outcome: EmptyResponse}
	}

	r.saveSession(desc, chat, sessionID, firstCall, stderr)
	r.store.SetLastAgent(chat, name)

	return Result{Outcome: Success, Text: output}
}

// Kill terminates in-flight subprocesses for the chat, optionally scoped to
// one agent ("" kills all). Reports whether anything was killed.
func (r *Runner) Kill(chat int64, name agent.Name) bool {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	killed := false
	for key, cmd := range r.procs {
		if key.chat != chat {
			continue
		}
		if name != "" && key.name != name {
			continue
		}
		if cmd.Process != nil {
			log.Printf("[runner] killing process for chat=%d agent=%s", key.chat, key.name)
			cmd.Process.Kill()
			killed = true
		}
	}
	return killed
}

// buildCommand resolves the session state into an argv. A failed-extraction
// sentinel is cleared and treated as no session.
func (r *Runner) buildCommand(desc agent.Descriptor, chat int64) ([]string, string, bool) {
	sessionID := r.store.Get(chat, desc.Name)

	if session.IsFailed(sessionID) {
		log.Printf("[runner] failed session marker for %s, recreating", desc.Name)
		r.store.Clear(chat, desc.Name)
		sessionID = ""
	}

	if sessionID == "" {
		log.Printf("[runner] creating session: %s for chat %d", desc.Name, chat)
		if desc.NeedsUUID {
			sessionID = uuid.NewString()
		}
		return substitute(desc.CreateCommand, sessionID), sessionID, true
	}

	log.Printf("[runner] resuming session: %s (%s...)", desc.Name, shortID(sessionID))
	return substitute(desc.ResumeCommand, sessionID), sessionID, false
}

func substitute(template []string, sessionID string) []string {
	cmd := make([]string, len(template))
	for i, arg := range template {
		cmd[i] = strings.ReplaceAll(arg, sessionPlaceholder, sessionID)
	}
	return cmd
}

// execute spawns the process, tracks it in the registry, and reads output
// under the activity-timeout policy. Returns a non-Success outcome plus
// whatever output was captured; Success here only means the process exited
// normally, final classification happens in Invoke.
func (r *Runner) execute(ctx context.Context, desc agent.Descriptor, key pairKey, argv []string) (Result, string, string) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.workDir
	cmd.Env = r.environ()

	var stdinPipe io.WriteCloser
	if desc.NeedsStdinClose {
		var err error
		stdinPipe, err = cmd.StdinPipe()
		if err != nil {
			return Result{Outcome: Error, Text: "stdin pipe: " + err.Error()}, "", ""
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Outcome: Error, Text: "stdout pipe: " + err.Error()}, "", ""
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{Outcome: Error, Text: "stderr pipe: " + err.Error()}, "", ""
	}

	if err := cmd.Start(); err != nil {
		return Result{Outcome: Error, Text: "start: " + err.Error()}, "", ""
	}

	r.procMu.Lock()
	r.procs[key] = cmd
	r.procMu.Unlock()
	defer func() {
		r.procMu.Lock()
		delete(r.procs, key)
		r.procMu.Unlock()
	}()

	// Some agents block until stdin reaches EOF.
	if stdinPipe != nil {
		stdinPipe.Close()
	}

	start := time.Now()
	var lastActivity atomic.Int64
	lastActivity.Store(start.UnixNano())

	var outBuf, errBuf lockedBuffer
	var readers sync.WaitGroup
	readers.Add(2)
	go drain(stdout, &outBuf, &lastActivity, &readers)
	go drain(stderr, &errBuf, &lastActivity, &readers)

	done := make(chan error, 1)
	go func() {
		readers.Wait()
		done <- cmd.Wait()
	}()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				msg := strings.TrimSpace(errBuf.String())
				if msg == "" {
					msg = strings.TrimSpace(outBuf.String())
				}
				if msg == "" {
					msg = err.Error()
				}
				log.Printf("[runner] %s exited with error: %v", desc.Name, err)
				return Result{Outcome: Error, Text: msg}, outBuf.String(), errBuf.String()
			}
			return Result{Outcome: Success}, outBuf.String(), errBuf.String()

		case <-ctx.Done():
			cmd.Process.Kill()
			<-done
			return Result{Outcome: Cancelled}, outBuf.String(), errBuf.String()

		case <-ticker.C:
			now := time.Now()
			idle := now.Sub(time.Unix(0, lastActivity.Load()))
			if idle > r.idleTimeout {
				log.Printf("[runner] %s idle timeout (%s without output)", desc.Name, r.idleTimeout)
				cmd.Process.Kill()
				<-done
				return Result{Outcome: Timeout}, outBuf.String(), errBuf.String()
			}
			if now.Sub(start) > r.totalTimeout {
				log.Printf("[runner] %s total timeout (%s elapsed)", desc.Name, r.totalTimeout)
				cmd.Process.Kill()
				<-done
				return Result{Outcome: Timeout}, outBuf.String(), errBuf.String()
			}
		}
	}
}

func (r *Runner) environ() []string {
	env := os.Environ()
	env = append(env, "NODE_NO_WARNINGS=1")
	if r.proxyURL != "" {
		for _, key := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "http_proxy", "https_proxy", "all_proxy"} {
			env = append(env, key+"="+r.proxyURL)
		}
	}
	return env
}

// saveSession commits the session id after a successful first call.
func (r *Runner) saveSession(desc agent.Descriptor, chat int64, sessionID string, firstCall bool, stderr string) {
	if !firstCall {
		return
	}

	switch desc.SessionSource {
	case agent.SourceClientUUID:
		r.store.Set(chat, desc.Name, sessionID)

	case agent.SourceStderrScan:
		if m := codexSessionPattern.FindStringSubmatch(stderr); m != nil {
			r.store.Set(chat, desc.Name, m[1])
			return
		}
		r.markFailed(desc.Name, chat)

	case agent.SourceListingCall:
		if id := r.listLatestSession(desc); id != "" {
			r.store.Set(chat, desc.Name, id)
			return
		}
		r.markFailed(desc.Name, chat)
	}
}

func (r *Runner) markFailed(name agent.Name, chat int64) {
	sentinel := session.FailedSentinel()
	r.store.Set(chat, name, sentinel)
	log.Printf("[runner] failed to extract session for %s, marked as %s", name, sentinel)
}

// listLatestSession runs the agent's listing command and returns the newest
// bracketed session id, "" on any failure.
func (r *Runner) listLatestSession(desc agent.Descriptor) string {
	if len(desc.ListCommand) == 0 {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, desc.ListCommand[0], desc.ListCommand[1:]...)
	cmd.Dir = r.workDir
	out, err := cmd.CombinedOutput()
	if err != nil && len(out) == 0 {
		log.Printf("[runner] session listing failed for %s: %v", desc.Name, err)
		return ""
	}

	var last string
	for _, line := range strings.Split(string(out), "\n") {
		if m := listedSessionPattern.FindStringSubmatch(line); m != nil {
			last = m[1]
		}
	}
	return last
}

// filterOutput prefers stdout; an empty stdout falls back to stderr with
// known benign noise lines removed.
func filterOutput(stdout, stderr string) string {
	output := strings.TrimSpace(stdout)
	if output != "" {
		return output
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		noisy := false
		for _, marker := range noiseMarkers {
			if strings.Contains(line, marker) {
				noisy = true
				break
			}
		}
		if !noisy {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func isSessionExpired(errText string) bool {
	lower := strings.ToLower(errText)
	if !strings.Contains(lower, "session") {
		return false
	}
	for _, kw := range []string{"not found", "invalid", "expired"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func drain(r io.Reader, buf *lockedBuffer, lastActivity *atomic.Int64, wg *sync.WaitGroup) {
	defer wg.Done()
	chunk := make([]byte, 1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			lastActivity.Store(time.Now().UnixNano())
		}
		if err != nil {
			return
		}
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
