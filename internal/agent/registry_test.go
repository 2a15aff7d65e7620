package agent

import "testing"

func TestNewRegistryDefaults(t *testing.T) {
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if r.Count() != 3 {
		t.Errorf("expected 3 agents, got %d", r.Count())
	}
	if r.Router() != Claude {
		t.Errorf("expected Claude as router, got %s", r.Router())
	}

	d, ok := r.Get(Gemini)
	if !ok {
		t.Fatal("Gemini not registered")
	}
	if !d.NeedsStdinClose {
		t.Error("Gemini should require stdin close")
	}
	if d.SessionSource != SourceListingCall {
		t.Error("Gemini should use listing-call session discovery")
	}
}

func TestNewRegistryDisable(t *testing.T) {
	r, err := NewRegistry(map[Name]Overrides{
		Codex: {Disabled: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := r.Get(Codex); ok {
		t.Error("Codex should be disabled")
	}
	if r.Count() != 2 {
		t.Errorf("expected 2 agents, got %d", r.Count())
	}
}

func TestNewRegistryAllDisabled(t *testing.T) {
	_, err := NewRegistry(map[Name]Overrides{
		Claude: {Disabled: true},
		Codex:  {Disabled: true},
		Gemini: {Disabled: true},
	})
	if err == nil {
		t.Fatal("expected error with all agents disabled")
	}
}

func TestNewRegistryCLIPathOverride(t *testing.T) {
	r, err := NewRegistry(map[Name]Overrides{
		Claude: {CLIPath: "/opt/bin/claude"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	d, _ := r.Get(Claude)
	if d.CreateCommand[0] != "/opt/bin/claude" {
		t.Errorf("create command argv0 = %q", d.CreateCommand[0])
	}
	if d.ResumeCommand[0] != "/opt/bin/claude" {
		t.Errorf("resume command argv0 = %q", d.ResumeCommand[0])
	}
}

func TestResolve(t *testing.T) {
	r, _ := NewRegistry(nil)

	tests := []struct {
		in   string
		want Name
		ok   bool
	}{
		{"claude", Claude, true},
		{"Claude", Claude, true},
		{"CLUADE", Claude, true},
		{"codx", Codex, true},
		{"  gemeni ", Gemini, true},
		{"gpt", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := r.Resolve(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
