// internal/telegram/bot.go
package telegram

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"agora/internal/agent"
	"agora/internal/archive"
	"agora/internal/debate"
	"agora/internal/events"
	"agora/internal/markup"
	"agora/internal/project"
	"agora/internal/roundtable"
	"agora/internal/router"
	"agora/internal/runner"
	"agora/internal/session"
)

// DefaultHistoryLimit is how many recent history entries accompany a message
// when no --N prefix is given.
const DefaultHistoryLimit = 2

var historyLimitPattern = regexp.MustCompile(`^--(\d+)\s+`)

// Bot wires the router, runner, and engines to Telegram chats.
type Bot struct {
	client   *Client
	registry *agent.Registry
	store    *session.Store
	runner   *runner.Runner
	router   *router.Router
	proj     project.Info
	writes   *markup.PendingWrites
	archive  *archive.Store // optional
	events   *events.Client

	discussionCfg roundtable.Config
	freeRounds    int

	mu          sync.Mutex
	discussions map[int64]*roundtable.State
	debates     map[int64]*debate.State
}

// Options bundles the collaborators a Bot needs.
type Options struct {
	Client        *Client
	Registry      *agent.Registry
	Store         *session.Store
	Runner        *runner.Runner
	Router        *router.Router
	Project       project.Info
	Archive       *archive.Store
	Events        *events.Client
	DiscussionCfg roundtable.Config
	FreeRounds    int
}

func NewBot(opts Options) *Bot {
	if opts.Events == nil {
		opts.Events = events.NewClient("")
	}
	return &Bot{
		client:        opts.Client,
		registry:      opts.Registry,
		store:         opts.Store,
		runner:        opts.Runner,
		router:        opts.Router,
		proj:          opts.Project,
		writes:        markup.NewPendingWrites(),
		archive:       opts.Archive,
		events:        opts.Events,
		discussionCfg: opts.DiscussionCfg,
		freeRounds:    opts.FreeRounds,
		discussions:   make(map[int64]*roundtable.State),
		debates:       make(map[int64]*debate.State),
	}
}

// Run long-polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	username, err := b.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	log.Printf("[bot] connected as @%s", username)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := b.client.GetUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[bot] getUpdates failed: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, u := range updates {
			go b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bot] handler panic: %v", r)
		}
	}()

	if u.CallbackQuery != nil {
		b.handleCallback(ctx, u.CallbackQuery)
		return
	}
	if u.Message == nil || u.Message.Text == "" {
		return
	}

	chat := u.Message.Chat.ID
	text := u.Message.Text

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, chat, text)
		return
	}
	b.handleMessage(ctx, u.Message)
}

func (b *Bot) handleCommand(ctx context.Context, chat int64, text string) {
	fields := strings.Fields(text)
	cmd := fields[0]
	if i := strings.Index(cmd, "@"); i != -1 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		b.reply(ctx, chat, helpText())
	case "/discuss":
		if len(args) == 0 {
			b.reply(ctx, chat, "Usage: `/discuss <topic>`")
			return
		}
		go b.runDiscussion(ctx, chat, strings.Join(args, " "))
	case "/debate":
		if len(args) == 0 {
			b.reply(ctx, chat, "Usage: `/debate <motion>`")
			return
		}
		go b.runDebate(ctx, chat, strings.Join(args, " "))
	case "/stop":
		b.handleStop(ctx, chat)
	case "/clear", "/clear_session":
		b.handleClear(ctx, chat, args)
	case "/sessions":
		b.handleSessions(ctx, chat)
	case "/history":
		b.handleHistory(ctx, chat)
	case "/ls":
		b.handleLs(ctx, chat)
	default:
		b.reply(ctx, chat, fmt.Sprintf("Unknown command %s", cmd))
	}
}

func helpText() string {
	return "**Welcome to Agora**\n" +
		"Multi-agent collaboration: Claude / Codex / Gemini\n\n" +
		"**Usage**\n" +
		"- Send a message and it routes to the best agent\n" +
		"- @Claude / @Codex / @Gemini to pick one\n" +
		"- Mention several agents to compare answers\n" +
		"- everyone / 大家 / 一起 calls all agents\n" +
		"- 圆桌 / roundtable starts a discussion\n" +
		"- debate / 辩论 / vs starts a debate\n" +
		"- Prefix `--N` to include the last N history entries\n\n" +
		"**Commands**\n" +
		"/discuss <topic> - start a roundtable\n" +
		"/debate <motion> - start a debate\n" +
		"/stop - stop the active discussion or debate\n" +
		"/sessions - show session state\n" +
		"/history - list archived discussions for this chat\n" +
		"/clear [agent] - clear sessions (and history)"
}

func (b *Bot) handleStop(ctx context.Context, chat int64) {
	b.mu.Lock()
	disc := b.discussions[chat]
	deb := b.debates[chat]
	b.mu.Unlock()

	if disc == nil && deb == nil {
		b.reply(ctx, chat, "No active discussion or debate.")
		return
	}
	if disc != nil {
		disc.Stop()
	}
	if deb != nil {
		deb.Stop()
	}
	b.runner.Kill(chat, "")
	b.reply(ctx, chat, "Stopped; all agent processes killed.")
}

func (b *Bot) handleClear(ctx context.Context, chat int64, args []string) {
	if len(args) > 0 {
		name, ok := b.registry.Resolve(args[0])
		if !ok {
			b.reply(ctx, chat, fmt.Sprintf("Unknown agent: %s\nAvailable: %s",
				args[0], joinNames(b.registry.Names())))
			return
		}
		b.store.Clear(chat, name)
		b.reply(ctx, chat, fmt.Sprintf("Cleared **%s** session", name))
		return
	}
	b.store.Clear(chat, "")
	b.store.ClearHistory(chat)
	b.reply(ctx, chat, "Cleared all agent sessions and conversation history")
}

func (b *Bot) handleSessions(ctx context.Context, chat int64) {
	var sb strings.Builder
	sb.WriteString("**Session state**\n\n")
	found := false
	for _, name := range b.registry.Names() {
		id := b.store.Get(chat, name)
		if id == "" {
			continue
		}
		found = true
		desc, _ := b.registry.Get(name)
		if session.IsFailed(id) {
			fmt.Fprintf(&sb, "%s **%s**\n   (pending recreation)\n\n", desc.Emoji, name)
			continue
		}
		fmt.Fprintf(&sb, "%s **%s**\n   `%s`\n\n", desc.Emoji, name, id)
	}
	if !found {
		b.reply(ctx, chat, "No active sessions")
		return
	}
	sb.WriteString("Use `/clear` to reset, `/clear <agent>` for one agent")
	b.reply(ctx, chat, sb.String())
}

func (b *Bot) handleHistory(ctx context.Context, chat int64) {
	if b.archive == nil {
		b.reply(ctx, chat, "Archive is not available")
		return
	}
	list, err := b.archive.ListDiscussions(chat)
	if err != nil {
		b.reply(ctx, chat, fmt.Sprintf("Error reading archive: %v", err))
		return
	}
	if len(list) == 0 {
		b.reply(ctx, chat, "No archived discussions yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("**Archived discussions**\n\n")
	for _, d := range list {
		fmt.Fprintf(&sb, "`%s` %s\n   %d round(s), %.1f (%s)\n\n",
			shortID(d.ID), d.Topic, d.Rounds, d.Score, d.Reason)
	}
	b.reply(ctx, chat, sb.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (b *Bot) handleLs(ctx context.Context, chat int64) {
	listing, err := b.proj.ListEntries()
	if err != nil {
		b.reply(ctx, chat, fmt.Sprintf("Error listing files: %v", err))
		return
	}
	b.reply(ctx, chat, fmt.Sprintf("**Files:**\n```\n%s\n```", listing))
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	chat := msg.Chat.ID
	text, historyLimit := ParseHistoryLimit(msg.Text)

	var replyAgent agent.Name
	var replyContext string
	if msg.ReplyToMessage != nil {
		replyContext = msg.ReplyToMessage.Text
		replyAgent = DetectReplyAgent(b.registry, replyContext)
	}

	res := b.router.Route(ctx, chat, text, replyAgent)
	log.Printf("[bot] route: %s -> %v (%s), history=%d", res.Mode, res.Agents, res.Reason, historyLimit)

	switch res.Mode {
	case router.ModeDebate:
		go b.runDebate(ctx, chat, res.CleanedPrompt)
	case router.ModeDiscussion:
		go b.runDiscussion(ctx, chat, res.CleanedPrompt)
	case router.ModeSingle, router.ModeMultiple:
		b.store.AppendHistory(chat, "user", res.CleanedPrompt)
		for _, name := range res.Agents {
			go b.callAgent(ctx, chat, name, res.CleanedPrompt, replyContext, historyLimit)
		}
	default:
		b.reply(ctx, chat, "Not sure how to handle that.\nTry @Claude, @Codex, or @Gemini to pick an agent.")
	}
}

// callAgent runs one agent call end to end: status message, history
// assembly, invocation, file-write extraction, and delivery.
func (b *Bot) callAgent(ctx context.Context, chat int64, name agent.Name, prompt, replyContext string, historyLimit int) {
	desc, ok := b.registry.Get(name)
	if !ok {
		return
	}

	statusID, err := b.client.SendMessage(ctx, chat, fmt.Sprintf("%s **%s** is thinking...", desc.Emoji, name))
	if err != nil {
		log.Printf("[bot] status message failed: %v", err)
		return
	}

	full := b.buildPrompt(chat, name, desc, prompt, replyContext, historyLimit)
	res := b.runner.Invoke(ctx, name, chat, full)
	if !res.OK() {
		b.edit(ctx, chat, statusID, fmt.Sprintf("%s **[%s]**: %s", desc.Emoji, name, res.UserMessage()))
		return
	}

	display, fileWrites := markup.ExtractFileWrites(res.Text)
	b.store.AppendHistory(chat, string(name), display)

	out := fmt.Sprintf("%s **[%s]**:\n\n%s", desc.Emoji, name, display)
	if _, err := b.client.SafeSend(ctx, chat, statusID, out, "response_"+string(name)); err != nil {
		log.Printf("[bot] send failed for %s: %v", name, err)
	}

	for _, w := range fileWrites {
		b.offerFileWrite(ctx, chat, w)
	}
}

// buildPrompt assembles role framing, replayed history, and the referenced
// message around the user's text.
func (b *Bot) buildPrompt(chat int64, name agent.Name, desc agent.Descriptor, prompt, replyContext string, historyLimit int) string {
	var parts []string

	// The just-appended user message is already in the prompt itself, so
	// fetch one extra entry and drop it from the replay.
	history := b.store.History(chat, historyLimit+1)
	if n := len(history); n > 0 && history[n-1].Role == "user" {
		history = history[:n-1]
	}
	if len(history) > 0 {
		parts = append(parts, formatHistory(history))
	}
	if replyContext != "" {
		parts = append(parts, fmt.Sprintf("[Referenced message]:\n%s\n", replyContext))
	}

	contextSection := strings.Join(parts, "\n")
	return fmt.Sprintf("You are %s (%s).\n"+
		"If you need to write a file, use the format: <WRITE_FILE path=\"path/to/file\">file content</WRITE_FILE>\n"+
		"Keep concise.\n\n%sUser: %s",
		name, desc.Role, contextSection, prompt)
}

func formatHistory(history []session.HistoryEntry) string {
	lines := []string{"[Recent conversation history]:"}
	for _, h := range history {
		if h.Role == "user" {
			lines = append(lines, "User: "+h.Content)
		} else {
			lines = append(lines, h.Role+": "+h.Content)
		}
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func (b *Bot) offerFileWrite(ctx context.Context, chat int64, w markup.FileWrite) {
	key := b.writes.Add(w)
	kb := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "Approve", CallbackData: "w|" + key},
		{Text: "Discard", CallbackData: "d|" + key},
	}}}
	text := fmt.Sprintf("**File write request**\n`%s`\n\n```\n%s\n```", w.Path, markup.Preview(w.Content, 8))
	if _, err := b.client.SendMessageWithKeyboard(ctx, chat, text, kb); err != nil {
		log.Printf("[bot] file write offer failed: %v", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *CallbackQuery) {
	action, key, ok := strings.Cut(q.Data, "|")
	if !ok {
		return
	}

	var notice, result string
	switch action {
	case "w":
		pw, found := b.writes.Take(key)
		if !found {
			notice = "Request expired"
			result = "File write request expired."
			break
		}
		if err := markup.WriteApproved(b.proj.Root, pw.FileWrite); err != nil {
			notice = "Write failed"
			result = fmt.Sprintf("Write rejected: %v", err)
			break
		}
		notice = "Written"
		result = fmt.Sprintf("Wrote `%s`", pw.Path)
	case "d":
		b.writes.Discard(key)
		notice = "Discarded"
		result = "File write discarded."
	default:
		return
	}

	if err := b.client.AnswerCallback(ctx, q.ID, notice); err != nil {
		log.Printf("[bot] answerCallback failed: %v", err)
	}
	if q.Message != nil {
		b.edit(ctx, q.Message.Chat.ID, q.Message.MessageID, result)
	}
}

func (b *Bot) runDiscussion(ctx context.Context, chat int64, topic string) {
	st, ok := b.registerDiscussion(chat, topic)
	if !ok {
		b.reply(ctx, chat, "A discussion or debate is already running. Use /stop first.")
		return
	}
	defer b.unregisterDiscussion(chat)

	b.events.DiscussionStarted(chat, topic)
	b.reply(ctx, chat, fmt.Sprintf("**Roundtable started**\nTopic: %s", topic))

	var (
		trMu       sync.Mutex
		transcript []archive.Statement
	)
	eng := roundtable.New(b.runner, b.registry.Names(), b.discussionCfg)
	eng.ProjectContext = b.proj.Context()
	eng.OnEvent = func(ev roundtable.Event) {
		switch ev.Kind {
		case roundtable.EventRoundStarted:
			b.reply(ctx, chat, fmt.Sprintf("**Round %d**", ev.Round))
		case roundtable.EventProposal:
			trMu.Lock()
			transcript = append(transcript, archive.Statement{
				Phase: fmt.Sprintf("round %d", ev.Round), Agent: string(ev.Agent), Content: ev.Text,
			})
			trMu.Unlock()
			b.sendAgentText(ctx, chat, ev.Agent, ev.Text)
		case roundtable.EventProposalFailed:
			b.sendAgentText(ctx, chat, ev.Agent, ev.Text)
		case roundtable.EventRoundScored:
			b.reply(ctx, chat, fmt.Sprintf("Round %d best: **%s** (%.1f)", ev.Round, ev.Agent, ev.Score))
		}
	}

	out, err := eng.Run(ctx, chat, st)
	if err != nil {
		b.reply(ctx, chat, "Discussion stopped.")
		return
	}

	b.reply(ctx, chat, fmt.Sprintf("**Discussion converged** (%s) after %d round(s)\nBest proposal by **%s**, score %.1f",
		out.Reason, out.Rounds, out.Agent, out.Score))
	if out.Final != "" {
		b.sendAgentText(ctx, chat, out.Agent, out.Final)
	}
	b.events.DiscussionConverged(chat, out.Reason, out.Rounds, out.Score)

	if b.archive != nil {
		id, err := b.archive.SaveDiscussion(archive.Discussion{
			ChatID:    chat,
			Topic:     topic,
			Rounds:    out.Rounds,
			Score:     out.Score,
			Reason:    out.Reason,
			BestAgent: string(out.Agent),
			Final:     out.Final,
		}, transcript)
		if err != nil {
			log.Printf("[bot] archive discussion failed: %v", err)
		} else if path, err := b.archive.ExportMarkdown(id); err != nil {
			log.Printf("[bot] export discussion failed: %v", err)
		} else {
			log.Printf("[bot] discussion transcript written to %s", path)
		}
	}
}

// debateRoles validates the default seats against the enabled agents.
func debateRoles(reg *agent.Registry) (debate.Roles, bool) {
	roles := debate.DefaultRoles()
	for _, name := range []agent.Name{roles.Pro, roles.Con, roles.Judge} {
		if _, ok := reg.Get(name); !ok {
			return debate.Roles{}, false
		}
	}
	return roles, true
}

func (b *Bot) runDebate(ctx context.Context, chat int64, topic string) {
	roles, ok := debateRoles(b.registry)
	if !ok {
		b.reply(ctx, chat, "Debate needs Claude, Gemini, and Codex all enabled")
		return
	}

	st, ok := b.registerDebate(chat, topic)
	if !ok {
		b.reply(ctx, chat, "A discussion or debate is already running. Use /stop first.")
		return
	}
	defer b.unregisterDebate(chat)

	b.events.DebateStarted(chat, topic)
	b.reply(ctx, chat, fmt.Sprintf("**Debate started**\nMotion: %s\nPro: %s, Con: %s, Judge: %s",
		topic, roles.Pro, roles.Con, roles.Judge))

	var (
		trMu       sync.Mutex
		transcript []archive.Statement
	)
	eng := debate.New(b.runner, roles, b.freeRounds)
	eng.OnEvent = func(ev debate.Event) {
		trMu.Lock()
		transcript = append(transcript, archive.Statement{
			Phase: ev.Phase, Side: ev.Side, Agent: string(ev.Agent), Content: ev.Text,
		})
		trMu.Unlock()
		b.sendAgentText(ctx, chat, ev.Agent, fmt.Sprintf("_%s / %s_\n\n%s", ev.Phase, ev.Side, ev.Text))
	}

	out, err := eng.Run(ctx, chat, st)
	if err != nil {
		if err == debate.ErrStopped {
			b.reply(ctx, chat, "Debate stopped.")
		} else {
			b.reply(ctx, chat, fmt.Sprintf("Debate aborted: %v", err))
		}
		return
	}

	s := out.Scores
	verdict := s.Winner.String()
	if s.Winner == markup.WinnerUnset {
		verdict = "undeclared"
	}
	b.reply(ctx, chat, fmt.Sprintf("**Verdict:** %s\nPro total %.1f / Con total %.1f",
		verdict, s.ProTotal, s.ConTotal))
	b.events.DebateFinished(chat, verdict, s.ProTotal, s.ConTotal)

	if b.archive != nil {
		winner := ""
		if s.Winner != markup.WinnerUnset {
			winner = s.Winner.String()
		}
		id, err := b.archive.SaveDebate(archive.Debate{
			ChatID:   chat,
			Topic:    topic,
			Pro:      string(roles.Pro),
			Con:      string(roles.Con),
			Judge:    string(roles.Judge),
			Winner:   winner,
			ProTotal: s.ProTotal,
			ConTotal: s.ConTotal,
			Judgment: out.Judgment,
		}, transcript)
		if err != nil {
			log.Printf("[bot] archive debate failed: %v", err)
		} else if path, err := b.archive.ExportMarkdown(id); err != nil {
			log.Printf("[bot] export debate failed: %v", err)
		} else {
			log.Printf("[bot] debate transcript written to %s", path)
		}
	}
}

func (b *Bot) registerDiscussion(chat int64, topic string) (*roundtable.State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discussions[chat] != nil || b.debates[chat] != nil {
		return nil, false
	}
	st := roundtable.NewState(topic)
	b.discussions[chat] = st
	return st, true
}

func (b *Bot) unregisterDiscussion(chat int64) {
	b.mu.Lock()
	delete(b.discussions, chat)
	b.mu.Unlock()
}

func (b *Bot) registerDebate(chat int64, topic string) (*debate.State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discussions[chat] != nil || b.debates[chat] != nil {
		return nil, false
	}
	st := debate.NewState(topic)
	b.debates[chat] = st
	return st, true
}

func (b *Bot) unregisterDebate(chat int64) {
	b.mu.Lock()
	delete(b.debates, chat)
	b.mu.Unlock()
}

func (b *Bot) sendAgentText(ctx context.Context, chat int64, name agent.Name, text string) {
	desc, _ := b.registry.Get(name)
	out := fmt.Sprintf("%s **[%s]**:\n\n%s", desc.Emoji, name, text)
	if _, err := b.client.SafeSend(ctx, chat, 0, out, "response_"+string(name)); err != nil {
		log.Printf("[bot] send failed for %s: %v", name, err)
	}
}

func (b *Bot) reply(ctx context.Context, chat int64, text string) {
	if _, err := b.client.SendMessage(ctx, chat, text); err != nil {
		log.Printf("[bot] reply failed: %v", err)
	}
}

func (b *Bot) edit(ctx context.Context, chat, messageID int64, text string) {
	if err := b.client.EditMessage(ctx, chat, messageID, text); err != nil {
		log.Printf("[bot] edit failed: %v", err)
	}
}

// ParseHistoryLimit strips a leading --N prefix, clamping N to [1,20].
func ParseHistoryLimit(message string) (string, int) {
	m := historyLimitPattern.FindStringSubmatch(message)
	if m == nil {
		return message, DefaultHistoryLimit
	}
	limit := 0
	fmt.Sscanf(m[1], "%d", &limit)
	if limit < 1 {
		limit = 1
	}
	if limit > 20 {
		limit = 20
	}
	return message[len(m[0]):], limit
}

// DetectReplyAgent finds which agent authored a replied-to message by its
// response label.
func DetectReplyAgent(reg *agent.Registry, text string) agent.Name {
	for _, name := range reg.Names() {
		if strings.Contains(text, "["+string(name)+"]") ||
			strings.Contains(text, "**"+string(name)+"**") {
			return name
		}
	}
	return ""
}

func joinNames(names []agent.Name) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
