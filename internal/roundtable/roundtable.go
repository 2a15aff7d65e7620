// internal/roundtable/roundtable.go
package roundtable

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/internal/agent"
	"agora/internal/markup"
	"agora/internal/runner"
)

// ErrStopped reports a user-initiated stop or cancelled context.
var ErrStopped = errors.New("discussion stopped")

// stopPollInterval is how often the mid-phase monitor checks the stop flag.
const stopPollInterval = 200 * time.Millisecond

// Invoker runs one agent call. Satisfied by *runner.Runner.
type Invoker interface {
	Invoke(ctx context.Context, name agent.Name, chat int64, prompt string) runner.Result
}

// Proposal is one agent's contribution in a round, with peer review scores.
type Proposal struct {
	Agent   agent.Name
	Content string
	Reviews map[agent.Name]int
}

// Average is the mean review score. Zero reviews average to 0.
func (p *Proposal) Average() float64 {
	if len(p.Reviews) == 0 {
		return 0
	}
	sum := 0
	for _, s := range p.Reviews {
		sum += s
	}
	return float64(sum) / float64(len(p.Reviews))
}

// State tracks one active discussion. Stop may be called from any goroutine.
type State struct {
	Topic string

	mu      sync.Mutex
	stopped bool
}

func NewState(topic string) *State {
	return &State{Topic: topic}
}

func (s *State) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *State) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type EventKind int

const (
	EventRoundStarted EventKind = iota
	EventProposal
	EventProposalFailed
	EventReview
	EventRoundScored
	EventConverged
)

// Event reports engine progress to the transport layer.
type Event struct {
	Kind   EventKind
	Round  int
	Agent  agent.Name
	Text   string
	Score  float64
	Reason string
}

// Outcome is the discussion's final result.
type Outcome struct {
	Agent  agent.Name
	Final  string
	Score  float64
	Reason string
	Rounds int
}

type Config struct {
	MaxRounds   int
	TargetScore float64
	Delta       float64
}

// Engine drives rounds of parallel proposals and peer review until the
// score history converges.
type Engine struct {
	invoker Invoker
	agents  []agent.Name
	cfg     Config

	// ProjectContext, when set, is prefixed to the first-round prompt.
	ProjectContext string
	// OnEvent receives progress events. May be nil.
	OnEvent func(Event)
}

func New(invoker Invoker, agents []agent.Name, cfg Config) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 5
	}
	if cfg.TargetScore <= 0 {
		cfg.TargetScore = 90
	}
	if cfg.Delta <= 0 {
		cfg.Delta = 5
	}
	return &Engine{invoker: invoker, agents: agents, cfg: cfg}
}

// Run executes the discussion until convergence, max rounds, or stop.
func (e *Engine) Run(ctx context.Context, chat int64, st *State) (*Outcome, error) {
	var best *Proposal
	var history []float64

	for round := 1; round <= e.cfg.MaxRounds; round++ {
		if st.Stopped() || ctx.Err() != nil {
			return nil, ErrStopped
		}
		e.emit(Event{Kind: EventRoundStarted, Round: round})

		proposals := e.proposePhase(ctx, chat, st, round, best)
		if st.Stopped() || ctx.Err() != nil {
			return nil, ErrStopped
		}

		e.reviewPhase(ctx, chat, st, round, proposals)
		if st.Stopped() || ctx.Err() != nil {
			return nil, ErrStopped
		}

		if roundBest := pickBest(e.agents, proposals); roundBest != nil {
			best = roundBest
			history = append(history, roundBest.Average())
			e.emit(Event{Kind: EventRoundScored, Round: round,
				Agent: roundBest.Agent, Score: roundBest.Average()})
		} else {
			// Every call failed this round; record a zero so the
			// plateau check still sees the round.
			history = append(history, 0)
			log.Printf("[roundtable] round %d produced no proposals", round)
		}

		if reason, done := Converged(history, round, e.cfg.MaxRounds, e.cfg.TargetScore, e.cfg.Delta); done {
			out := &Outcome{Reason: reason, Rounds: round}
			if best != nil {
				out.Agent = best.Agent
				out.Final = best.Content
				out.Score = best.Average()
			}
			e.emit(Event{Kind: EventConverged, Round: round, Reason: reason, Score: out.Score})
			return out, nil
		}
	}

	// MaxRounds >= 1 means the loop always converges via "max rounds
	// reached" before falling out.
	return nil, ErrStopped
}

// proposePhase fans one call out per agent and collects the survivors.
// Failed and cancelled calls are skipped, not retried.
func (e *Engine) proposePhase(ctx context.Context, chat int64, st *State, round int, best *Proposal) map[agent.Name]*Proposal {
	prompt := e.proposePrompt(st.Topic, round, best)

	results := e.parallel(ctx, chat, st, func(agent.Name) string { return prompt })

	proposals := make(map[agent.Name]*Proposal)
	for name, res := range results {
		if !res.OK() {
			e.emit(Event{Kind: EventProposalFailed, Round: round, Agent: name, Text: res.UserMessage()})
			continue
		}
		proposals[name] = &Proposal{
			Agent:   name,
			Content: res.Text,
			Reviews: make(map[agent.Name]int),
		}
		e.emit(Event{Kind: EventProposal, Round: round, Agent: name, Text: res.Text})
	}
	return proposals
}

// reviewPhase asks every agent to score all of this round's proposals.
func (e *Engine) reviewPhase(ctx context.Context, chat int64, st *State, round int, proposals map[agent.Name]*Proposal) {
	if len(proposals) == 0 {
		return
	}
	prompt := e.reviewPrompt(st.Topic, proposals)

	results := e.parallel(ctx, chat, st, func(agent.Name) string { return prompt })

	for reviewer, res := range results {
		if !res.OK() {
			continue
		}
		e.emit(Event{Kind: EventReview, Round: round, Agent: reviewer, Text: res.Text})
		for _, p := range proposals {
			score, ok := markup.FindScoreNear(res.Text, string(p.Agent))
			if !ok {
				continue
			}
			p.Reviews[reviewer] = score
		}
	}
}

// parallel dispatches one call per agent and waits for all of them. A monitor
// goroutine cancels everything in flight as soon as the stop flag is set.
func (e *Engine) parallel(ctx context.Context, chat int64, st *State, promptFor func(agent.Name) string) map[agent.Name]runner.Result {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitorDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(stopPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorDone:
				return
			case <-ticker.C:
				if st.Stopped() {
					cancel()
					return
				}
			}
		}
	}()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[agent.Name]runner.Result)
	)
	for _, name := range e.agents {
		wg.Add(1)
		go func(name agent.Name) {
			defer wg.Done()
			res := e.invoker.Invoke(phaseCtx, name, chat, promptFor(name))
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	close(monitorDone)

	if st.Stopped() {
		// Discard everything from an aborted phase.
		return nil
	}
	return results
}

func (e *Engine) proposePrompt(topic string, round int, best *Proposal) string {
	var b strings.Builder
	if round == 1 {
		if e.ProjectContext != "" {
			b.WriteString(e.ProjectContext)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Roundtable discussion topic: %s\n\n", topic)
		b.WriteString("Give your analysis and a concrete proposal. ")
		b.WriteString("Cover the key tradeoffs and state your recommendation clearly.")
		return b.String()
	}
	fmt.Fprintf(&b, "Roundtable discussion topic: %s\n\nRound %d.\n\n", topic, round)
	if best != nil {
		fmt.Fprintf(&b, "The current best proposal (by %s, scored %.0f):\n%s\n\n",
			best.Agent, best.Average(), best.Content)
	}
	b.WriteString("Build on or critique the proposal above. ")
	b.WriteString("Offer an improved version, keeping what works and fixing what does not.")
	return b.String()
}

func (e *Engine) reviewPrompt(topic string, proposals map[agent.Name]*Proposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nReview each proposal below and score it from 0 to 100.\n", topic)
	b.WriteString("For every proposal, write the author's name followed by <SCORE>number</SCORE> and a one-line justification.\n\n")

	// Stable order keeps reviewer prompts identical across agents.
	names := make([]string, 0, len(proposals))
	for name := range proposals {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		p := proposals[agent.Name(name)]
		fmt.Fprintf(&b, "=== Proposal by %s ===\n%s\n\n", name, p.Content)
	}
	return b.String()
}

// pickBest selects the highest-average proposal, first seen in agent order
// winning ties.
func pickBest(order []agent.Name, proposals map[agent.Name]*Proposal) *Proposal {
	var best *Proposal
	for _, name := range order {
		p, ok := proposals[name]
		if !ok {
			continue
		}
		if best == nil || p.Average() > best.Average() {
			best = p
		}
	}
	return best
}

// Converged reports whether the score history satisfies a convergence
// condition, checked in priority order.
func Converged(history []float64, round, maxRounds int, target, delta float64) (string, bool) {
	n := len(history)
	if n > 0 && history[n-1] >= target {
		return "target reached", true
	}
	if n >= 3 {
		d1 := history[n-1] - history[n-2]
		d2 := history[n-2] - history[n-3]
		if d1 >= 0 && d1 < delta && d2 >= 0 && d2 < delta {
			return "plateaued", true
		}
	}
	if round >= maxRounds {
		return "max rounds reached", true
	}
	return "", false
}

func (e *Engine) emit(ev Event) {
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}
