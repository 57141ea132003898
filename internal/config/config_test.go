package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const sampleYAML = `
run:
  duration: 5s
  output_dir: /var/lib/pingmesh/out
  log_level: debug
topology:
  nodes: 6
  links:
    - {a: 0, b: 1, delay: 50ms, rate_mbps: 10000}
    - {a: 1, b: 2, delay: 50ms, rate_mbps: 10000, queue_packets: 20}
pingmesh:
  enabled: true
  interval: 100ms
  pairs: set(0->2, 2->0)
telemetry:
  queue: {enabled: true, links: ["0->1", "1->2"]}
  utilization: {enabled: true, interval: 10ms, round_decimals: 0}
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(context.Background(), writeScenario(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Run.Duration != 5*time.Second {
		t.Fatalf("unexpected duration: %s", cfg.Run.Duration)
	}
	if cfg.Run.DurationNs() != 5_000_000_000 {
		t.Fatalf("unexpected duration ns: %d", cfg.Run.DurationNs())
	}
	if got := cfg.Topology.Links[0].RateBps(); got != 10_000_000_000 {
		t.Fatalf("unexpected rate: %d", got)
	}
	if cfg.Topology.Links[0].QueuePackets != 100 || cfg.Topology.Links[1].QueuePackets != 20 {
		t.Fatalf("unexpected queue sizes: %+v", cfg.Topology.Links)
	}
	if cfg.Pingmesh.Pairs.All || len(cfg.Pingmesh.Pairs.Items) != 2 || cfg.Pingmesh.Pairs.Items[1] != "2->0" {
		t.Fatalf("unexpected pairs: %#v", cfg.Pingmesh.Pairs)
	}
	if q := cfg.Telemetry.Queue.Links; q.All || len(q.Items) != 2 {
		t.Fatalf("unexpected queue links: %#v", q)
	}
	if !cfg.Telemetry.Utilization.Links.All {
		t.Fatalf("expected utilization to default to all links")
	}
	if cfg.Telemetry.Utilization.Decimals() != 0 {
		t.Fatalf("expected round_decimals 0 got %d", cfg.Telemetry.Utilization.Decimals())
	}
	if cfg.Pingmesh.PayloadBytes != 64 {
		t.Fatalf("expected default payload 64 got %d", cfg.Pingmesh.PayloadBytes)
	}
	if cfg.Server.Addr != DefaultServerAddr || cfg.Server.Burst != 40 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeScenario(t, sampleYAML)
	t.Setenv(envConfigPath, path)
	t.Setenv(envPostgresDSN, "postgres://pingmesh@localhost/pingmesh")

	cfg, err := LoadFromEnv(context.Background())
	if err != nil {
		t.Fatalf("LoadFromEnv returned error: %v", err)
	}
	if cfg.Run.OutputDir != "/var/lib/pingmesh/out" {
		t.Fatalf("unexpected output dir: %s", cfg.Run.OutputDir)
	}
	if cfg.Export.PostgresDSN != "postgres://pingmesh@localhost/pingmesh" {
		t.Fatalf("expected dsn from environment got %q", cfg.Export.PostgresDSN)
	}
}

func TestLoadDotEnvOverlay(t *testing.T) {
	const key = "PINGMESH_TEST_DOTENV_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Fatalf("expected from-file got %q", got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestSelectionForms(t *testing.T) {
	var doc struct {
		A Selection `yaml:"a"`
		B Selection `yaml:"b"`
		C Selection `yaml:"c"`
		D Selection `yaml:"d"`
	}
	input := "a: all\nb: set(1->2, 3->4)\nc: [\"0->1\"]\nd: set()\n"
	if err := yaml.Unmarshal([]byte(input), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !doc.A.All {
		t.Fatalf("expected all")
	}
	if len(doc.B.Items) != 2 || doc.B.Items[0] != "1->2" {
		t.Fatalf("unexpected set form: %#v", doc.B.Items)
	}
	if len(doc.C.Items) != 1 || doc.C.Items[0] != "0->1" {
		t.Fatalf("unexpected list form: %#v", doc.C.Items)
	}
	if doc.D.All || len(doc.D.Items) != 0 || !doc.D.set {
		t.Fatalf("expected explicit empty selection: %#v", doc.D)
	}

	var bad struct {
		S Selection `yaml:"s"`
	}
	if err := yaml.Unmarshal([]byte("s: {a: 1}\n"), &bad); err == nil {
		t.Fatalf("expected error for mapping selection")
	}
	if err := yaml.Unmarshal([]byte("s: some\n"), &bad); err == nil {
		t.Fatalf("expected error for unknown scalar")
	}
}

func TestValidateRejectsBadScenarios(t *testing.T) {
	cases := map[string]string{
		"zero duration":     strings.Replace(sampleYAML, "duration: 5s", "duration: 0s", 1),
		"node out of range": strings.Replace(sampleYAML, "{a: 1, b: 2,", "{a: 1, b: 9,", 1),
		"self link":         strings.Replace(sampleYAML, "{a: 1, b: 2,", "{a: 1, b: 1,", 1),
		"negative delay":    strings.Replace(sampleYAML, "delay: 50ms, rate_mbps: 10000}", "delay: -1ms, rate_mbps: 10000}", 1),
		"zero rate":         strings.Replace(sampleYAML, "rate_mbps: 10000}", "rate_mbps: 0}", 1),
		"bad log level":     strings.Replace(sampleYAML, "log_level: debug", "log_level: chatty", 1),
		"negative interval": strings.Replace(sampleYAML, "interval: 100ms", "interval: -100ms", 1),
		"bad shard":         strings.Replace(sampleYAML, "pairs: set(0->2, 2->0)", "pairs: set(0->2, 2->0)\n  shard: {index: 3, count: 2}", 1),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestWriteResolvedRoundTrips(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out", "scenario.yaml")
	if err := WriteResolved(path, cfg); err != nil {
		t.Fatalf("WriteResolved: %v", err)
	}
	again, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load resolved: %v", err)
	}
	if again.Pingmesh.Interval != cfg.Pingmesh.Interval || !again.Telemetry.Utilization.Links.All {
		t.Fatalf("resolved scenario differs: %+v", again)
	}
	if len(again.Pingmesh.Pairs.Items) != 2 {
		t.Fatalf("expected pairs to survive round trip: %#v", again.Pingmesh.Pairs)
	}
}
