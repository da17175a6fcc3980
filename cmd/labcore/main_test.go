package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"labcore/internal/core"
	"labcore/internal/infra/persistence/memory"
	"labcore/internal/logging"
	"labcore/pkg/domain"
)

func writeSeedFile(t *testing.T) string {
	t.Helper()
	now := time.Now().UTC()
	step := func(id string, reagents []domain.StepReagent, devices []domain.StepEquipment) domain.ProtocolStep {
		return domain.ProtocolStep{ID: id, Order: 1, Instruction: id, RequiredReagents: reagents, RequiredEquipment: devices}
	}
	snap := memory.Snapshot{
		Inventory: map[string]domain.InventoryItem{
			"etoh": {ID: "etoh", LabID: "lab", Name: "EtOH", CurrentQuantity: 20, MinQuantity: 10, UnitPrice: decimal.RequireFromString("2.50")},
			"tips": {ID: "tips", LabID: "lab", Name: "Pipette Tips", CurrentQuantity: 3, MinQuantity: 10, UnitPrice: decimal.RequireFromString("3.33")},
		},
		Equipment: map[string]domain.EquipmentDevice{
			"pcr": {ID: "pcr", LabID: "lab", Name: "PCR Machine", MaintenanceIntervalDays: 30, LastMaintained: now.Add(-72 * time.Hour),
				Supplies: []domain.Supply{{InventoryItemID: "tips", MinQty: 10, BurnPerWeek: 2}}},
			"cent": {ID: "cent", LabID: "lab", Name: "Centrifuge", MaintenanceIntervalDays: 30, LastMaintained: now.Add(-45 * 24 * time.Hour)},
		},
		Protocols: map[string]domain.Protocol{
			"dna": {ID: "dna", LabID: "lab", Name: "DNA prep", ActiveVersionID: "v1", Versions: []domain.ProtocolVersion{{ID: "v1", Number: 1,
				Steps: []domain.ProtocolStep{step("wash", []domain.StepReagent{{Name: "EtOH", Quantity: "5"}}, nil)}}}},
			"spin": {ID: "spin", LabID: "lab", Name: "Spin", ActiveVersionID: "v1", Versions: []domain.ProtocolVersion{{ID: "v1", Number: 1,
				Steps: []domain.ProtocolStep{step("spin", nil, []domain.StepEquipment{{ID: "cent"}})}}}},
		},
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LABCORE_CONFIG", "")
	t.Setenv("LABCORE_STORAGE_DRIVER", "memory")
	t.Setenv("LABCORE_SEED_FILE", writeSeedFile(t))
	t.Setenv("LABCORE_BLOB_DRIVER", "memory")
	t.Setenv("LABCORE_DISMISSAL_DRIVER", "memory")
	t.Setenv("LABCORE_LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReorderCommand(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "reorder", "--lab", "lab")
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	var report core.ReorderReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(report.Suggestions) != 1 || report.Suggestions[0].InventoryItemID != "tips" {
		t.Fatalf("unexpected suggestions %+v", report.Suggestions)
	}
}

func TestPreflightCommand(t *testing.T) {
	memoryEnv(t)
	cases := []struct {
		protocol string
		verdict  domain.Verdict
		blocked  bool
	}{
		{"dna", domain.VerdictPass, false},
		{"spin", domain.VerdictFail, true},
	}
	for _, tc := range cases {
		t.Run(tc.protocol, func(t *testing.T) {
			out, err := execute(t, "preflight", tc.protocol, "--lab", "lab")
			if got := errors.Is(err, core.ErrPreflightBlocked); got != tc.blocked {
				t.Fatalf("blocked = %v (err %v), want %v", got, err, tc.blocked)
			}
			var report domain.GateReport
			if err := json.Unmarshal([]byte(out), &report); err != nil {
				t.Fatalf("decode %q: %v", out, err)
			}
			if report.Overall != tc.verdict {
				t.Fatalf("verdict = %s, want %s", report.Overall, tc.verdict)
			}
		})
	}

	if _, err := execute(t, "preflight", "dna", "--lab", "lab", "--start", "tomorrow"); err == nil || !strings.Contains(err.Error(), "--start") {
		t.Fatalf("bad --start = %v", err)
	}
	if _, err := execute(t, "preflight", "missing", "--lab", "lab"); domain.Classify(err) != domain.ClassNotFound {
		t.Fatalf("unknown protocol = %v", err)
	}
}

func TestHealthAndInventoryCommands(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "health", "--lab", "lab")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	first := strings.Index(out, `"device_id": "cent"`)
	second := strings.Index(out, `"device_id": "pcr"`)
	if first < 0 || second < 0 || first > second {
		t.Fatalf("overdue centrifuge should be listed first:\n%s", out)
	}

	out, err = execute(t, "inventory", "--lab", "lab")
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	var items []core.InventoryStatus
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected two items, got %d", len(items))
	}
}

func TestCommandsRequireLab(t *testing.T) {
	memoryEnv(t)
	for _, args := range [][]string{{"reorder"}, {"health"}, {"inventory"}, {"preflight", "dna"}} {
		if _, err := execute(t, args...); err == nil || !strings.Contains(err.Error(), "--lab") {
			t.Fatalf("%v without --lab = %v", args, err)
		}
	}
}

func TestOpenAppRejectsBadConfig(t *testing.T) {
	memoryEnv(t)
	t.Setenv("LABCORE_STORAGE_DRIVER", "mongo")
	if _, err := execute(t, "reorder", "--lab", "lab"); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("bad driver = %v", err)
	}
}

func TestTraceFileRecordsCommandSpans(t *testing.T) {
	memoryEnv(t)
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	t.Setenv("LABCORE_METRICS", "expvar")
	t.Setenv("LABCORE_TRACE_FILE", path)
	if _, err := execute(t, "inventory", "--lab", "lab"); err != nil {
		t.Fatalf("inventory: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(data), `"operation":"list_inventory"`) || !strings.Contains(string(data), `"status":"success"`) {
		t.Fatalf("unexpected trace %s", data)
	}

	t.Setenv("LABCORE_METRICS", "statsd")
	if _, err := execute(t, "inventory", "--lab", "lab"); err == nil || !strings.Contains(err.Error(), "unknown metrics exporter") {
		t.Fatalf("bad exporter = %v", err)
	}
}

func TestServeShutsDownWhenContextEnds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	router := gin.New()
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, router, logging.Noop()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}
