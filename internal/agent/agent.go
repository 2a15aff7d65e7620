// internal/agent/agent.go
package agent

// Name identifies one of the supported CLI agents.
type Name string

const (
	Claude Name = "Claude"
	Codex  Name = "Codex"
	Gemini Name = "Gemini"
)

// All lists every supported agent in canonical speaking order.
var All = []Name{Claude, Codex, Gemini}

// SessionSource describes how a freshly created session id is discovered.
type SessionSource int

const (
	// SourceClientUUID: the caller mints a UUID and passes it on the create
	// command line; nothing needs to be extracted afterwards.
	SourceClientUUID SessionSource = iota
	// SourceStderrScan: the CLI prints "session id: <id>" on stderr during
	// the first call.
	SourceStderrScan
	// SourceListingCall: the id is not in the call output at all; a secondary
	// listing invocation reports known sessions and the newest one is taken.
	SourceListingCall
)

// Descriptor is the static configuration for one agent. Immutable after
// registry construction.
type Descriptor struct {
	Name  Name
	Emoji string
	Role  string

	// CreateCommand starts a fresh conversation. ResumeCommand continues an
	// existing one; both may contain the "{session_id}" placeholder. The user
	// prompt is always appended as the final argument.
	CreateCommand []string
	ResumeCommand []string

	NeedsUUID       bool
	NeedsStdinClose bool
	IsRouter        bool

	SessionSource SessionSource
	// ListCommand is only used with SourceListingCall.
	ListCommand []string

	// Aliases are common misspellings accepted by the router, lowercase.
	Aliases []string
	// IntentKeywords map role-correlated phrasing to this agent.
	IntentKeywords []string
}

func defaultDescriptors() map[Name]Descriptor {
	return map[Name]Descriptor{
		Claude: {
			Name:  Claude,
			Emoji: "🔸",
			Role:  "architecture and design",
			CreateCommand: []string{
				"claude", "-p", "--dangerously-skip-permissions", "--session-id", "{session_id}",
			},
			ResumeCommand: []string{
				"claude", "-p", "--dangerously-skip-permissions", "--resume", "{session_id}",
			},
			NeedsUUID:     true,
			IsRouter:      true,
			SessionSource: SourceClientUUID,
			Aliases:       []string{"claude", "cluade", "caude", "clade"},
			IntentKeywords: []string{
				"架构", "设计", "方案", "design", "architecture", "分析", "规划", "plan",
			},
		},
		Codex: {
			Name:  Codex,
			Emoji: "❇️",
			Role:  "implementation and coding",
			CreateCommand: []string{
				"codex", "exec", "--skip-git-repo-check", "--full-auto",
			},
			ResumeCommand: []string{
				"codex", "exec", "--skip-git-repo-check", "resume", "{session_id}",
			},
			SessionSource: SourceStderrScan,
			Aliases:       []string{"codex", "codx", "codexs"},
			IntentKeywords: []string{
				"写", "实现", "代码", "write", "implement", "code", "create", "开发", "编写",
			},
		},
		Gemini: {
			Name:  Gemini,
			Emoji: "💠",
			Role:  "review and testing",
			CreateCommand: []string{
				"gemini", "-y", "-p",
			},
			ResumeCommand: []string{
				"gemini", "--resume", "{session_id}", "-y", "-p",
			},
			NeedsStdinClose: true,
			SessionSource:   SourceListingCall,
			ListCommand:     []string{"gemini", "--list-sessions"},
			Aliases:         []string{"gemini", "gemeni", "genimi", "gemni"},
			IntentKeywords: []string{
				"审查", "测试", "检查", "review", "test", "check", "安全", "验证", "verify",
			},
		},
	}
}
