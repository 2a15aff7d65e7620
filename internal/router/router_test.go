package router

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"agora/internal/agent"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	reg, err := agent.NewRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(reg)
}

func TestRouteExplicitMention(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "claude, 帮我看看这段", "")

	if res.Mode != ModeSingle {
		t.Fatalf("Mode = %v, want single", res.Mode)
	}
	if len(res.Agents) != 1 || res.Agents[0] != agent.Claude {
		t.Fatalf("Agents = %v, want [Claude]", res.Agents)
	}
	if res.CleanedPrompt != "帮我看看这段" {
		t.Errorf("CleanedPrompt = %q", res.CleanedPrompt)
	}
}

func TestRouteMentionAlias(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "@cluade what time is it", "")
	if res.Mode != ModeSingle || len(res.Agents) != 1 || res.Agents[0] != agent.Claude {
		t.Fatalf("got %v %v", res.Mode, res.Agents)
	}
}

func TestRouteMultipleMentions(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "claude codex 帮我看看", "")
	if res.Mode != ModeMultiple {
		t.Fatalf("Mode = %v, want multiple", res.Mode)
	}
	if len(res.Agents) != 2 {
		t.Fatalf("Agents = %v", res.Agents)
	}
}

func TestRouteReferentialMentionIgnored(t *testing.T) {
	r := newTestRouter(t)
	for _, msg := range []string{
		"claude的回答不太对",
		"claude's answer was wrong",
	} {
		res := r.Route(context.Background(), 1, msg, "")
		if res.Reason != "no rule matched" {
			t.Errorf("%q: reason = %q, expected fall-through", msg, res.Reason)
		}
	}
}

func TestRouteMentionOutweighsReferential(t *testing.T) {
	// A second genuine call alongside a referential use still routes.
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "claude 你觉得claude的说法对吗", "")
	if res.Mode != ModeSingle || len(res.Agents) != 1 || res.Agents[0] != agent.Claude {
		t.Fatalf("got %v %v (%s)", res.Mode, res.Agents, res.Reason)
	}
}

func TestRouteCleanedPromptFallback(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "claude", "")
	if res.CleanedPrompt != "claude" {
		t.Errorf("CleanedPrompt = %q, want original when stripping empties it", res.CleanedPrompt)
	}
}

func TestRouteReplyContinuation(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "thanks, more detail", agent.Gemini)
	if res.Mode != ModeSingle || len(res.Agents) != 1 || res.Agents[0] != agent.Gemini {
		t.Fatalf("got %v %v (%s)", res.Mode, res.Agents, res.Reason)
	}
}

func TestRouteDebateKeyword(t *testing.T) {
	r := newTestRouter(t)
	// Broadcast pronoun present too, but debate ranks higher.
	res := r.Route(context.Background(), 1, "你们辩论一下单体和微服务", "")
	if res.Mode != ModeDebate {
		t.Fatalf("Mode = %v, want debate (%s)", res.Mode, res.Reason)
	}
}

func TestRouteDiscussionCoOccurrence(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "讨论一下这个方案", "")
	if res.Mode != ModeDiscussion {
		t.Fatalf("Mode = %v, want discussion (%s)", res.Mode, res.Reason)
	}

	// A bare discussion word without a topic word does not trigger.
	res = r.Route(context.Background(), 1, "nothing to discuss here", "")
	if res.Mode == ModeDiscussion {
		t.Error("bare discussion keyword should not trigger discussion")
	}
}

func TestRouteRoundtablePhrase(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "圆桌: 微服务拆分", "")
	if res.Mode != ModeDiscussion {
		t.Fatalf("Mode = %v, want discussion", res.Mode)
	}
}

func TestRouteBroadcast(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "大家好，近况如何", "")
	if res.Mode != ModeMultiple {
		t.Fatalf("Mode = %v, want multiple (%s)", res.Mode, res.Reason)
	}
	if len(res.Agents) != 3 {
		t.Errorf("Agents = %v, want all three", res.Agents)
	}
}

func TestRouteIntentKeyword(t *testing.T) {
	r := newTestRouter(t)
	res := r.Route(context.Background(), 1, "帮我写一个排序函数", "")
	if res.Mode != ModeSingle || len(res.Agents) != 1 || res.Agents[0] != agent.Codex {
		t.Fatalf("got %v %v (%s)", res.Mode, res.Agents, res.Reason)
	}
}

func TestRouteContinuity(t *testing.T) {
	r := newTestRouter(t)
	r.LastAgent = func(chat int64) agent.Name { return agent.Gemini }
	res := r.Route(context.Background(), 1, "ok", "")
	if res.Mode != ModeSingle || len(res.Agents) != 1 || res.Agents[0] != agent.Gemini {
		t.Fatalf("got %v %v (%s)", res.Mode, res.Agents, res.Reason)
	}
}

func TestRouteClassifier(t *testing.T) {
	r := newTestRouter(t)
	r.Classify = func(ctx context.Context, chat int64, prompt string) (string, error) {
		return "Claude, Codex", nil
	}
	res := r.Route(context.Background(), 1, "hmm", "")
	if res.Mode != ModeMultiple {
		t.Fatalf("Mode = %v (%s)", res.Mode, res.Reason)
	}
	want := []agent.Name{agent.Claude, agent.Codex}
	if !reflect.DeepEqual(res.Agents, want) {
		t.Errorf("Agents = %v, want %v", res.Agents, want)
	}
}

func TestRouteClassifierFailureFallsThrough(t *testing.T) {
	r := newTestRouter(t)
	r.Classify = func(ctx context.Context, chat int64, prompt string) (string, error) {
		return "", errors.New("exec failed")
	}
	res := r.Route(context.Background(), 1, "hmm", "")
	if res.Reason != "no rule matched" {
		t.Errorf("reason = %q, want default", res.Reason)
	}
	if len(res.Agents) != 1 || res.Agents[0] != agent.Claude {
		t.Errorf("Agents = %v, want default router agent", res.Agents)
	}
}

func TestRouteIdempotent(t *testing.T) {
	r := newTestRouter(t)
	msgs := []string{
		"claude 帮我看看",
		"讨论一下这个方案",
		"nothing special",
	}
	for _, msg := range msgs {
		a := r.Route(context.Background(), 1, msg, "")
		b := r.Route(context.Background(), 1, msg, "")
		if !reflect.DeepEqual(a, b) {
			t.Errorf("%q: results differ: %+v vs %+v", msg, a, b)
		}
	}
}
