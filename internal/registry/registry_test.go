package registry

import (
	"strings"
	"testing"
)

const validConfig = `{
	"providers": [
		{"id": "primary", "protocol": "openai", "endpoint": "http://primary.example/v1", "api_key": "k1", "weight": 1, "models": ["m-1"]},
		{"id": "backup", "protocol": "gemini", "endpoint": "http://backup.example", "weight": 2, "models": ["m-2"]}
	],
	"routing": {
		"routes": {
			"default": [{"provider": "primary", "model": "m-1"}, {"provider": "backup", "model": "m-2"}],
			"background": [{"provider": "backup", "model": "m-2"}]
		},
		"background_patterns": ["haiku"],
		"long_context_threshold": 50000
	}
}`

func TestLoadValidConfig(t *testing.T) {
	reg, table, err := Load([]byte(validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(reg.Profiles()) != 2 {
		t.Errorf("got %d profiles, want 2", len(reg.Profiles()))
	}
	p, ok := reg.Get("primary")
	if !ok {
		t.Fatal("primary not found")
	}
	if p.Protocol != ProtocolOpenAI || !p.Healthy() {
		t.Errorf("primary = %+v healthy=%v", p, p.Healthy())
	}

	if table.LongContextThreshold != 50000 {
		t.Errorf("threshold = %d, want 50000", table.LongContextThreshold)
	}
	if len(table.Routes["default"]) != 2 {
		t.Errorf("default route = %+v", table.Routes["default"])
	}
}

func TestLoadDefaultsThreshold(t *testing.T) {
	cfg := strings.Replace(validConfig, `"long_context_threshold": 50000`, `"long_context_threshold": 0`, 1)
	_, table, err := Load([]byte(cfg))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if table.LongContextThreshold != 60000 {
		t.Errorf("threshold = %d, want default 60000", table.LongContextThreshold)
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{`},
		{"no providers", `{"providers": [], "routing": {"routes": {"default": []}}}`},
		{
			"missing default route",
			`{"providers": [{"id": "a", "protocol": "openai", "endpoint": "http://a"}],
			  "routing": {"routes": {"background": [{"provider": "a", "model": "m"}]}}}`,
		},
		{
			"unknown provider in route",
			`{"providers": [{"id": "a", "protocol": "openai", "endpoint": "http://a"}],
			  "routing": {"routes": {"default": [{"provider": "ghost", "model": "m"}]}}}`,
		},
		{
			"unknown protocol",
			`{"providers": [{"id": "a", "protocol": "smoke-signal", "endpoint": "http://a"}],
			  "routing": {"routes": {"default": [{"provider": "a", "model": "m"}]}}}`,
		},
		{
			"duplicate provider id",
			`{"providers": [
				{"id": "a", "protocol": "openai", "endpoint": "http://a"},
				{"id": "a", "protocol": "gemini", "endpoint": "http://b"}],
			  "routing": {"routes": {"default": [{"provider": "a", "model": "m"}]}}}`,
		},
		{
			"missing endpoint",
			`{"providers": [{"id": "a", "protocol": "openai"}],
			  "routing": {"routes": {"default": [{"provider": "a", "model": "m"}]}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Load([]byte(tt.json)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHealthFlag(t *testing.T) {
	reg, _, err := Load([]byte(validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, _ := reg.Get("primary")
	p.SetHealthy(false)
	if p.Healthy() {
		t.Error("health flag did not flip")
	}
	p.SetHealthy(true)
	if !p.Healthy() {
		t.Error("health flag did not restore")
	}
}
