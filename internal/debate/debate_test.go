package debate

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"agora/internal/agent"
	"agora/internal/markup"
	"agora/internal/runner"
)

type fakeInvoker struct {
	mu    sync.Mutex
	calls []agent.Name
	fn    func(ctx context.Context, name agent.Name, prompt string) runner.Result
}

func (f *fakeInvoker) Invoke(ctx context.Context, name agent.Name, chat int64, prompt string) runner.Result {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	return f.fn(ctx, name, prompt)
}

func TestParseJudgment(t *testing.T) {
	text := `Scoring:
Pro - Argument Quality: <SCORE>85</SCORE>
Con - Argument Quality: <SCORE>60</SCORE>
Pro - Evidentiary Support: <SCORE>80</SCORE>
Con - Evidentiary Support: <SCORE>70</SCORE>
Pro - Rebuttal Strength: <SCORE>75</SCORE>
Con - Rebuttal Strength: <SCORE>65</SCORE>
Pro - Delivery: <SCORE>90</SCORE>
Con - Delivery: <SCORE>55</SCORE>

<WINNER>pro</WINNER> because the affirmative case held up.`

	s := ParseJudgment(text)
	if s.Pro["Argument Quality"] != 85 || s.Con["Argument Quality"] != 60 {
		t.Errorf("Argument Quality = %d/%d", s.Pro["Argument Quality"], s.Con["Argument Quality"])
	}
	if s.ProTotal != 82.5 {
		t.Errorf("ProTotal = %v, want 82.5", s.ProTotal)
	}
	if s.ConTotal != 62.5 {
		t.Errorf("ConTotal = %v, want 62.5", s.ConTotal)
	}
	if s.ProTotal < s.ConTotal {
		t.Error("pro should outscore con")
	}
	if s.Winner != markup.WinnerPro {
		t.Errorf("Winner = %v, want pro", s.Winner)
	}
}

func TestParseJudgmentMissingScoresDefaultZero(t *testing.T) {
	text := `Pro - Argument Quality: <SCORE>85</SCORE>
<WINNER>tie</WINNER>`

	s := ParseJudgment(text)
	if s.Pro["Delivery"] != 0 {
		t.Errorf("missing dimension = %d, want 0", s.Pro["Delivery"])
	}
	if s.ConTotal != 0 {
		t.Errorf("ConTotal = %v, want 0", s.ConTotal)
	}
	if s.Winner != markup.WinnerTie {
		t.Errorf("Winner = %v, want tie", s.Winner)
	}
}

func TestParseJudgmentAbsentWinnerStaysUnset(t *testing.T) {
	text := `Pro - Argument Quality: <SCORE>90</SCORE>
Con - Argument Quality: <SCORE>10</SCORE>`

	s := ParseJudgment(text)
	if s.Winner != markup.WinnerUnset {
		t.Errorf("Winner = %v, want unset despite totals diverging", s.Winner)
	}
	if s.ProTotal <= s.ConTotal {
		t.Error("totals should still be computed")
	}
}

func TestParseJudgmentClampsScores(t *testing.T) {
	s := ParseJudgment("Pro - Delivery: <SCORE>250</SCORE>")
	if s.Pro["Delivery"] != 100 {
		t.Errorf("clamped score = %d, want 100", s.Pro["Delivery"])
	}
}

func TestRunPhaseOrder(t *testing.T) {
	inv := &fakeInvoker{}
	n := 0
	inv.fn = func(ctx context.Context, name agent.Name, prompt string) runner.Result {
		n++
		if strings.Contains(prompt, "You are the judge") {
			return runner.Result{Outcome: runner.Success,
				Text: "Pro - Delivery: <SCORE>70</SCORE>\nCon - Delivery: <SCORE>50</SCORE>\n<WINNER>pro</WINNER>"}
		}
		return runner.Result{Outcome: runner.Success, Text: fmt.Sprintf("statement %d", n)}
	}

	roles := DefaultRoles()
	eng := New(inv, roles, 2)
	out, err := eng.Run(context.Background(), 1, NewState("remote work"))
	if err != nil {
		t.Fatal(err)
	}

	want := []agent.Name{
		roles.Pro, roles.Con, // opening
		roles.Con, roles.Pro, roles.Pro, roles.Con, // cross-examination
		roles.Pro, roles.Con, roles.Pro, roles.Con, // free debate x2
		roles.Con, roles.Pro, // closing
		roles.Judge,
	}
	if !reflect.DeepEqual(inv.calls, want) {
		t.Errorf("call order = %v\nwant %v", inv.calls, want)
	}

	if len(out.Transcript) != 12 {
		t.Errorf("transcript length = %d, want 12", len(out.Transcript))
	}
	if out.Transcript[0].Phase != PhaseOpening || out.Transcript[0].Side != "pro" {
		t.Errorf("first argument = %+v", out.Transcript[0])
	}
	closing := out.Transcript[10]
	if closing.Phase != PhaseClosing || closing.Side != "con" {
		t.Errorf("con should close first, got %+v", closing)
	}
	if out.Transcript[11].Side != "pro" {
		t.Error("pro should have the last word")
	}
	if out.Scores.Winner != markup.WinnerPro {
		t.Errorf("Winner = %v", out.Scores.Winner)
	}
}

func TestRunFreeRoundsConfigurable(t *testing.T) {
	inv := &fakeInvoker{}
	inv.fn = func(ctx context.Context, name agent.Name, prompt string) runner.Result {
		return runner.Result{Outcome: runner.Success, Text: "ok"}
	}
	eng := New(inv, DefaultRoles(), 1)
	out, err := eng.Run(context.Background(), 1, NewState("t"))
	if err != nil {
		t.Fatal(err)
	}
	// 2 opening + 4 cross + 2 free + 2 closing
	if len(out.Transcript) != 10 {
		t.Errorf("transcript length = %d, want 10", len(out.Transcript))
	}
}

func TestRunStopAbortsRemainingPhases(t *testing.T) {
	inv := &fakeInvoker{}
	st := NewState("t")
	inv.fn = func(ctx context.Context, name agent.Name, prompt string) runner.Result {
		st.Stop()
		return runner.Result{Outcome: runner.Success, Text: "ok"}
	}

	eng := New(inv, DefaultRoles(), 2)
	out, err := eng.Run(context.Background(), 1, st)
	if err != ErrStopped {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if out != nil {
		t.Error("no outcome expected after stop")
	}
	if len(inv.calls) != 1 {
		t.Errorf("%d calls after stop, want 1", len(inv.calls))
	}
}

func TestRunStopCancelsInFlightCall(t *testing.T) {
	inv := &fakeInvoker{}
	inv.fn = func(ctx context.Context, name agent.Name, prompt string) runner.Result {
		<-ctx.Done()
		return runner.Result{Outcome: runner.Cancelled}
	}

	st := NewState("t")
	go func() {
		time.Sleep(50 * time.Millisecond)
		st.Stop()
	}()

	eng := New(inv, DefaultRoles(), 2)
	start := time.Now()
	if _, err := eng.Run(context.Background(), 1, st); err != ErrStopped {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("stop took %v", elapsed)
	}
}

func TestRunContinuesPastAgentError(t *testing.T) {
	inv := &fakeInvoker{}
	inv.fn = func(ctx context.Context, name agent.Name, prompt string) runner.Result {
		if name == agent.Gemini && len(inv.calls) == 2 {
			return runner.Result{Outcome: runner.Error, Text: "boom"}
		}
		if strings.Contains(prompt, "You are the judge") {
			return runner.Result{Outcome: runner.Success,
				Text: "Pro - Delivery: <SCORE>70</SCORE>\nCon - Delivery: <SCORE>50</SCORE>\n<WINNER>pro</WINNER>"}
		}
		return runner.Result{Outcome: runner.Success, Text: "ok"}
	}

	eng := New(inv, DefaultRoles(), 2)
	out, err := eng.Run(context.Background(), 1, NewState("t"))
	if err != nil {
		t.Fatalf("err = %v, want finished debate", err)
	}
	if len(out.Transcript) != 12 {
		t.Fatalf("transcript length = %d, want 12", len(out.Transcript))
	}
	if len(inv.calls) != 13 {
		t.Errorf("%d calls, want all 13 turns", len(inv.calls))
	}

	failed := out.Transcript[1]
	if failed.Agent != agent.Gemini || !strings.HasPrefix(failed.Content, "[Error:") {
		t.Errorf("failed turn = %+v, want inline error for Gemini", failed)
	}
	if out.Scores.Winner != markup.WinnerPro {
		t.Errorf("Winner = %v", out.Scores.Winner)
	}
}

func TestRunSkippedTurnFeedsErrorIntoContext(t *testing.T) {
	var answerPromptSeen string
	inv := &fakeInvoker{}
	inv.fn = func(ctx context.Context, name agent.Name, prompt string) runner.Result {
		if len(inv.calls) == 3 {
			return runner.Result{Outcome: runner.Timeout}
		}
		if strings.Contains(prompt, "Your opponent asks") {
			answerPromptSeen = prompt
		}
		return runner.Result{Outcome: runner.Success, Text: "ok"}
	}

	eng := New(inv, DefaultRoles(), 1)
	if _, err := eng.Run(context.Background(), 1, NewState("t")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(answerPromptSeen, "[Error:") {
		t.Errorf("answer prompt should carry the failed question inline, got %q", answerPromptSeen)
	}
}
