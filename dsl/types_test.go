package dsl

import "testing"

func TestParseConfig(t *testing.T) {
	body := `
name: review
description: Review the current file
variables:
  reviewer: alice
  strict: true
  retries: 3
functions:
  summarize: scripts/summarize.devin
agents: [planner]
when: language == "Go"
enabled: false
beforeStreaming: [clear]
afterStreaming: [save, notify]
`
	cfg, err := ParseConfig(body)
	if err != nil {
		t.Fatalf("ParseConfig() returned error: %v", err)
	}

	if cfg.Name != "review" {
		t.Errorf("Config.Name = %q, want %q", cfg.Name, "review")
	}
	if cfg.Variables["reviewer"] != "alice" || cfg.Variables["strict"] != true || cfg.Variables["retries"] != 3 {
		t.Errorf("Config.Variables = %v", cfg.Variables)
	}
	if cfg.Functions["summarize"] != "scripts/summarize.devin" {
		t.Errorf("Config.Functions = %v", cfg.Functions)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0] != "planner" {
		t.Errorf("Config.Agents = %v", cfg.Agents)
	}
	if cfg.IsEnabled() {
		t.Error("IsEnabled() should be false")
	}

	hooks := cfg.Hooks()
	if len(hooks) != 2 || len(hooks["afterStreaming"]) != 2 {
		t.Errorf("Hooks() = %v", hooks)
	}
}

func TestParseConfigMalformed(t *testing.T) {
	cfg, err := ParseConfig("name: [unclosed")
	if err == nil {
		t.Fatal("expected error")
	}
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig("  \n")
	if err != nil {
		t.Fatalf("ParseConfig() returned error: %v", err)
	}
	if !cfg.IsEnabled() {
		t.Error("empty config should be enabled")
	}
}

func TestConfigMatches(t *testing.T) {
	tests := []struct {
		name    string
		when    string
		vars    map[string]any
		want    bool
		wantErr bool
	}{
		{name: "empty", when: "", want: true},
		{name: "true", when: `language == "Go"`, vars: map[string]any{"language": "Go"}, want: true},
		{name: "false", when: `language == "Go"`, vars: map[string]any{"language": "Rust"}, want: false},
		{name: "undefined variable", when: `language == "Go"`, vars: nil, want: false},
		{name: "numeric", when: `retries > 2`, vars: map[string]any{"retries": 3}, want: true},
		{name: "syntax error", when: `language ==`, vars: map[string]any{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{When: tt.when}
			got, err := cfg.Matches(tt.vars)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Matches() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
