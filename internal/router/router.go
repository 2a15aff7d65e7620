// internal/router/router.go
package router

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"agora/internal/agent"
)

// Mode is the dispatch shape selected for a message.
type Mode int

const (
	ModeNone Mode = iota
	ModeSingle
	ModeMultiple
	ModeDiscussion
	ModeDebate
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMultiple:
		return "multiple"
	case ModeDiscussion:
		return "discussion"
	case ModeDebate:
		return "debate"
	default:
		return "none"
	}
}

// Result is the routing decision for one message.
type Result struct {
	Mode          Mode
	Agents        []agent.Name
	Reason        string
	CleanedPrompt string
}

var debateKeywords = []string{
	"辩论", "辩一辩", "辩论赛", "正反方", "正方反方",
	"你们辩", "辩个", "debate", "vs",
}

// roundtablePhrases trigger a discussion on their own.
var roundtablePhrases = []string{
	"圆桌", "roundtable", "大家讨论",
}

// discussionKeywords need a topicKeywords co-occurrence to trigger,
// keeping bare "discuss" mentions from hijacking ordinary messages.
var discussionKeywords = []string{
	"讨论", "商量", "聊聊", "discuss", "brainstorm",
}

var topicKeywords = []string{
	"方案", "问题", "话题", "设计", "架构",
	"topic", "plan", "issue", "approach", "design",
}

var broadcastKeywords = []string{
	"大家", "你们", "一起", "everyone", "you all", "together",
}

type mentionMatcher struct {
	name        agent.Name
	call        *regexp.Regexp
	referential *regexp.Regexp
	strip       *regexp.Regexp
}

// Router decides which agents handle a message via a priority cascade.
// Classify and LastAgent are optional collaborators; either may be nil.
type Router struct {
	registry *agent.Registry
	matchers []mentionMatcher

	// LastAgent reports the chat's most recent responder, if any.
	LastAgent func(chat int64) agent.Name
	// Classify invokes the fallback classifier agent with a meta prompt
	// and returns its raw reply.
	Classify func(ctx context.Context, chat int64, prompt string) (string, error)
}

func New(reg *agent.Registry) *Router {
	r := &Router{registry: reg}
	for _, name := range reg.Names() {
		desc, _ := reg.Get(name)
		variants := append([]string{string(name)}, desc.Aliases...)
		for i, v := range variants {
			variants[i] = regexp.QuoteMeta(strings.ToLower(v))
		}
		alt := strings.Join(variants, "|")
		r.matchers = append(r.matchers, mentionMatcher{
			name:        name,
			call:        regexp.MustCompile(`(?i)@?(` + alt + `)`),
			referential: regexp.MustCompile(`(?i)(` + alt + `).{0,2}(的|'s)`),
			strip:       regexp.MustCompile(`(?i)@?(` + alt + `)\s*[,，:：]?\s*`),
		})
	}
	return r
}

// Route evaluates the cascade; the first matching rule wins.
func (r *Router) Route(ctx context.Context, chat int64, message string, replyTo agent.Name) Result {
	lower := strings.ToLower(message)

	// 1. Explicit mention
	if mentioned := r.detectMentions(message); len(mentioned) > 0 {
		return Result{
			Mode:          modeFor(len(mentioned)),
			Agents:        mentioned,
			Reason:        "explicit mention: " + joinNames(mentioned),
			CleanedPrompt: r.cleanPrompt(message, mentioned),
		}
	}

	// 2. Reply continuation
	if replyTo != "" {
		if _, ok := r.registry.Get(replyTo); ok {
			return Result{
				Mode:          ModeSingle,
				Agents:        []agent.Name{replyTo},
				Reason:        fmt.Sprintf("reply to %s", replyTo),
				CleanedPrompt: message,
			}
		}
	}

	// 3. Debate trigger
	if containsAny(lower, debateKeywords) {
		return Result{
			Mode:          ModeDebate,
			Reason:        "debate keyword",
			CleanedPrompt: message,
		}
	}

	// 4. Discussion trigger
	if containsAny(lower, roundtablePhrases) ||
		(containsAny(lower, discussionKeywords) && containsAny(lower, topicKeywords)) {
		return Result{
			Mode:          ModeDiscussion,
			Agents:        r.registry.Names(),
			Reason:        "discussion keyword",
			CleanedPrompt: message,
		}
	}

	// 5. Broadcast trigger
	if containsAny(lower, broadcastKeywords) {
		return Result{
			Mode:          ModeMultiple,
			Agents:        r.registry.Names(),
			Reason:        "broadcast keyword",
			CleanedPrompt: message,
		}
	}

	// 6. Intent inference
	if intent := r.detectIntent(lower); len(intent) > 0 {
		return Result{
			Mode:          modeFor(len(intent)),
			Agents:        intent,
			Reason:        "intent keywords: " + joinNames(intent),
			CleanedPrompt: message,
		}
	}

	// 7. Conversation continuity
	if r.LastAgent != nil {
		if last := r.LastAgent(chat); last != "" {
			if _, ok := r.registry.Get(last); ok {
				return Result{
					Mode:          ModeSingle,
					Agents:        []agent.Name{last},
					Reason:        fmt.Sprintf("continuing with %s", last),
					CleanedPrompt: message,
				}
			}
		}
	}

	// 8. Classifier fallback
	if r.Classify != nil {
		if routed := r.aiRoute(ctx, chat, message); len(routed) > 0 {
			return Result{
				Mode:          modeFor(len(routed)),
				Agents:        routed,
				Reason:        "classifier: " + joinNames(routed),
				CleanedPrompt: message,
			}
		}
	}

	// 9. Default
	return Result{
		Mode:          ModeSingle,
		Agents:        []agent.Name{r.registry.Router()},
		Reason:        "no rule matched",
		CleanedPrompt: message,
	}
}

// detectMentions returns agents whose name appears as a call, not merely in
// referential phrasing like "claude的方案" or "claude's plan".
func (r *Router) detectMentions(message string) []agent.Name {
	var mentioned []agent.Name
	for _, m := range r.matchers {
		total := len(m.call.FindAllStringIndex(message, -1))
		if total == 0 {
			continue
		}
		referential := len(m.referential.FindAllStringIndex(message, -1))
		if total > referential {
			mentioned = append(mentioned, m.name)
		}
	}
	return mentioned
}

func (r *Router) cleanPrompt(message string, mentioned []agent.Name) string {
	cleaned := message
	for _, m := range r.matchers {
		if !containsName(mentioned, m.name) {
			continue
		}
		cleaned = m.strip.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return message
	}
	return cleaned
}

func (r *Router) detectIntent(lower string) []agent.Name {
	var out []agent.Name
	for _, name := range r.registry.Names() {
		desc, _ := r.registry.Get(name)
		if containsAny(lower, desc.IntentKeywords) {
			out = append(out, name)
		}
	}
	return out
}

func (r *Router) aiRoute(ctx context.Context, chat int64, message string) []agent.Name {
	prompt := r.classifierPrompt(message)
	reply, err := r.Classify(ctx, chat, prompt)
	if err != nil {
		log.Printf("[router] classifier failed: %v", err)
		return nil
	}

	var out []agent.Name
	reply = strings.ReplaceAll(strings.TrimSpace(reply), "，", ",")
	for _, part := range strings.Split(reply, ",") {
		name, ok := r.registry.Resolve(strings.TrimSpace(part))
		if ok && !containsName(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func (r *Router) classifierPrompt(message string) string {
	var b strings.Builder
	b.WriteString("You are a message router. Decide which agent should answer the user's question.\n\nAvailable agents:\n")
	for _, name := range r.registry.Names() {
		desc, _ := r.registry.Get(name)
		fmt.Fprintf(&b, "- %s: %s\n", name, desc.Role)
	}
	fmt.Fprintf(&b, "\nUser question: %s\n\n", message)
	fmt.Fprintf(&b, "Answer with agent names only, comma separated. If unsure, answer %q.\n", string(r.registry.Router()))
	return b.String()
}

func modeFor(n int) Mode {
	if n > 1 {
		return ModeMultiple
	}
	return ModeSingle
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func containsName(list []agent.Name, name agent.Name) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

func joinNames(names []agent.Name) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
