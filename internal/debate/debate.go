// internal/debate/debate.go
package debate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"agora/internal/agent"
	"agora/internal/markup"
	"agora/internal/runner"
)

// ErrStopped reports a user-initiated stop or cancelled context.
var ErrStopped = errors.New("debate stopped")

const stopPollInterval = 200 * time.Millisecond

// Dimensions are the fixed judging criteria.
var Dimensions = []string{
	"Argument Quality",
	"Evidentiary Support",
	"Rebuttal Strength",
	"Delivery",
}

// Invoker runs one agent call. Satisfied by *runner.Runner.
type Invoker interface {
	Invoke(ctx context.Context, name agent.Name, chat int64, prompt string) runner.Result
}

// Roles assigns the three debate seats.
type Roles struct {
	Pro   agent.Name
	Con   agent.Name
	Judge agent.Name
}

func DefaultRoles() Roles {
	return Roles{Pro: agent.Claude, Con: agent.Gemini, Judge: agent.Codex}
}

// Phase names, in running order.
const (
	PhaseOpening   = "opening"
	PhaseCrossExam = "cross-examination"
	PhaseFree      = "free debate"
	PhaseClosing   = "closing"
	PhaseJudgment  = "judgment"
)

// Argument is one statement in the transcript. The transcript is append-only.
type Argument struct {
	Phase   string
	Agent   agent.Name
	Side    string
	Content string
}

// State tracks one active debate. Stop may be called from any goroutine.
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

// Scores is the parsed judgment. Missing per-dimension matches stay 0;
// Winner stays unset when the judge omits the tag, even if totals differ.
type Scores struct {
	Pro      map[string]int
	Con      map[string]int
	ProTotal float64
	ConTotal float64
	Winner   markup.Winner
}

// Outcome is the finished debate.
type Outcome struct {
	Transcript []Argument
	Judgment   string
	Scores     Scores
}

// Event reports debate progress to the transport layer.
type Event struct {
	Phase string
	Agent agent.Name
	Side  string
	Text  string
}

// Engine runs the five debate phases in strict order.
type Engine struct {
	invoker    Invoker
	roles      Roles
	freeRounds int

	// OnEvent receives each statement as it lands. May be nil.
	OnEvent func(Event)
}

func New(invoker Invoker, roles Roles, freeRounds int) *Engine {
	if freeRounds <= 0 {
		freeRounds = 2
	}
	return &Engine{invoker: invoker, roles: roles, freeRounds: freeRounds}
}

// Run executes opening, cross-examination, free debate, closing, and
// judgment. A failed agent turn lands in the transcript as an inline error
// and the debate moves on; only stop or cancellation aborts the remainder.
func (e *Engine) Run(ctx context.Context, chat int64, st *State) (*Outcome, error) {
	var transcript []Argument

	speak := func(phase string, name agent.Name, side, prompt string) error {
		text, err := e.call(ctx, chat, st, name, prompt)
		if err != nil {
			return err
		}
		arg := Argument{Phase: phase, Agent: name, Side: side, Content: text}
		transcript = append(transcript, arg)
		e.emit(Event{Phase: phase, Agent: name, Side: side, Text: text})
		return nil
	}

	// Opening: pro states its position first.
	if err := speak(PhaseOpening, e.roles.Pro, "pro", e.openingPrompt(st.Topic, "for")); err != nil {
		return nil, err
	}
	if err := speak(PhaseOpening, e.roles.Con, "con", e.openingPrompt(st.Topic, "against")); err != nil {
		return nil, err
	}

	// Cross-examination: con questions first, then the mirror.
	proOpening := transcript[0].Content
	conOpening := transcript[1].Content
	if err := speak(PhaseCrossExam, e.roles.Con, "con", questionPrompt(st.Topic, proOpening)); err != nil {
		return nil, err
	}
	if err := speak(PhaseCrossExam, e.roles.Pro, "pro", answerPrompt(st.Topic, last(transcript))); err != nil {
		return nil, err
	}
	if err := speak(PhaseCrossExam, e.roles.Pro, "pro", questionPrompt(st.Topic, conOpening)); err != nil {
		return nil, err
	}
	if err := speak(PhaseCrossExam, e.roles.Con, "con", answerPrompt(st.Topic, last(transcript))); err != nil {
		return nil, err
	}

	// Free debate: pro then con each round, full transcript as context.
	for round := 1; round <= e.freeRounds; round++ {
		if err := speak(PhaseFree, e.roles.Pro, "pro", freePrompt(st.Topic, "pro", round, transcript)); err != nil {
			return nil, err
		}
		if err := speak(PhaseFree, e.roles.Con, "con", freePrompt(st.Topic, "con", round, transcript)); err != nil {
			return nil, err
		}
	}

	// Closing: con first so pro gets the last word before judgment.
	if err := speak(PhaseClosing, e.roles.Con, "con", closingPrompt(st.Topic, "con", transcript)); err != nil {
		return nil, err
	}
	if err := speak(PhaseClosing, e.roles.Pro, "pro", closingPrompt(st.Topic, "pro", transcript)); err != nil {
		return nil, err
	}

	judgment, err := e.call(ctx, chat, st, e.roles.Judge, e.judgmentPrompt(st.Topic, transcript))
	if err != nil {
		return nil, err
	}
	e.emit(Event{Phase: PhaseJudgment, Agent: e.roles.Judge, Side: "judge", Text: judgment})

	return &Outcome{
		Transcript: transcript,
		Judgment:   judgment,
		Scores:     ParseJudgment(judgment),
	}, nil
}

// call dispatches one invocation, cancelling it mid-flight if the stop flag
// is raised while it runs. Agent failures degrade to an inline error string;
// the only returned error is ErrStopped.
func (e *Engine) call(ctx context.Context, chat int64, st *State, name agent.Name, prompt string) (string, error) {
	if st.Stopped() || ctx.Err() != nil {
		return "", ErrStopped
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(stopPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if st.Stopped() {
					cancel()
					return
				}
			}
		}
	}()

	res := e.invoker.Invoke(callCtx, name, chat, prompt)
	close(done)

	if st.Stopped() || res.Outcome == runner.Cancelled {
		return "", ErrStopped
	}
	if !res.OK() {
		return "[" + res.UserMessage() + "]", nil
	}
	return res.Text, nil
}

func (e *Engine) openingPrompt(topic, stance string) string {
	return fmt.Sprintf("Debate topic: %s\n\nYou are arguing %s the motion. "+
		"State your position and your 2-3 core arguments. Be direct and concrete.",
		topic, stance)
}

func questionPrompt(topic, opening string) string {
	return fmt.Sprintf("Debate topic: %s\n\nYour opponent's opening statement:\n%s\n\n"+
		"Cross-examine it: ask one pointed question exposing its weakest point.",
		topic, opening)
}

func answerPrompt(topic string, question Argument) string {
	return fmt.Sprintf("Debate topic: %s\n\nYour opponent asks:\n%s\n\n"+
		"Answer the question directly, defending your position.",
		topic, question.Content)
}

func freePrompt(topic, side string, round int, transcript []Argument) string {
	return fmt.Sprintf("Debate topic: %s\n\nFree debate, round %d. You argue the %s side.\n\n"+
		"Transcript so far:\n%s\n"+
		"Rebut your opponent's latest points and press your strongest argument.",
		topic, round, side, renderTranscript(transcript))
}

func closingPrompt(topic, side string, transcript []Argument) string {
	return fmt.Sprintf("Debate topic: %s\n\nYou argue the %s side. The debate is over.\n\n"+
		"Transcript:\n%s\n"+
		"Give your closing statement: summarize why your side carried the debate.",
		topic, side, renderTranscript(transcript))
}

func (e *Engine) judgmentPrompt(topic string, transcript []Argument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the judge of a debate on: %s\n\nFull transcript:\n%s\n", topic, renderTranscript(transcript))
	b.WriteString("Score both sides on each dimension from 0 to 100. For every dimension, write:\n")
	b.WriteString("Pro - <dimension>: <SCORE>number</SCORE>\n")
	b.WriteString("Con - <dimension>: <SCORE>number</SCORE>\n\nDimensions:\n")
	for _, d := range Dimensions {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	b.WriteString("\nFinish with the overall winner as <WINNER>pro</WINNER>, <WINNER>con</WINNER>, or <WINNER>tie</WINNER>, and a short rationale.")
	return b.String()
}

func renderTranscript(transcript []Argument) string {
	var b strings.Builder
	for _, arg := range transcript {
		fmt.Fprintf(&b, "[%s / %s] %s:\n%s\n\n", arg.Phase, arg.Side, arg.Agent, arg.Content)
	}
	return b.String()
}

func last(transcript []Argument) Argument {
	return transcript[len(transcript)-1]
}

var scoreTag = `<SCORE>\s*(\d+)\s*</SCORE>`

// ParseJudgment extracts per-dimension scores for both sides and the winner
// declaration. Unparseable scores default to 0 rather than failing the
// debate.
func ParseJudgment(text string) Scores {
	s := Scores{
		Pro: make(map[string]int),
		Con: make(map[string]int),
	}
	for _, dim := range Dimensions {
		s.Pro[dim] = sideScore(text, "pro", dim)
		s.Con[dim] = sideScore(text, "con", dim)
	}
	s.ProTotal = mean(s.Pro)
	s.ConTotal = mean(s.Con)
	s.Winner = markup.ExtractWinner(text, "pro", "con")
	return s
}

// sideScore finds the score tag nearest after the side label and dimension
// name, in either order of appearance.
func sideScore(text, side, dim string) int {
	patterns := []string{
		`(?is)\b` + side + `\b[^<]{0,100}?` + regexp.QuoteMeta(dim) + `.{0,100}?` + scoreTag,
		`(?is)` + regexp.QuoteMeta(dim) + `[^<]{0,100}?\b` + side + `\b.{0,100}?` + scoreTag,
	}
	for _, p := range patterns {
		if m := regexp.MustCompile(p).FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return markup.Clamp(n)
		}
	}
	return 0
}

func mean(scores map[string]int) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, v := range scores {
		sum += v
	}
	return float64(sum) / float64(len(scores))
}

func (e *Engine) emit(ev Event) {
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}
