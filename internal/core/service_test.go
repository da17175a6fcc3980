package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"labcore/internal/blob"
	"labcore/internal/execution"
	"labcore/internal/health"
	"labcore/internal/media"
	"labcore/pkg/domain"
)

func TestStartExecutionPassesPreflight(t *testing.T) {
	st := seedLab(t)
	svc := NewService(st, WithClock(fixedClock()), WithIDFunc(func() string { return "ex-generated" }))

	session, report, err := svc.StartExecution(context.Background(), labUser(), "dna", StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if report.Overall != domain.VerdictPass || len(report.PerResource) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	exec := session.Execution()
	if exec.ID != "ex-generated" || exec.Status != domain.ExecutionRunning || exec.LabID != "lab" {
		t.Fatalf("unexpected execution %+v", exec)
	}
	if !exec.StartedAt.Equal(fixedNow) {
		t.Fatalf("start time should come from the service clock, got %v", exec.StartedAt)
	}
	stored, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil || stored.Steps.Len() != 2 {
		t.Fatalf("execution not persisted: %v %+v", err, stored)
	}
}

func TestStartExecutionVerdicts(t *testing.T) {
	cases := []struct {
		name     string
		protocol string
		opts     StartOptions
		wantErr  error
		verdict  domain.Verdict
	}{
		{"overdue equipment blocks", "spin", StartOptions{}, ErrPreflightBlocked, domain.VerdictFail},
		{"acknowledgement does not lift a block", "spin", StartOptions{AcknowledgeWarnings: true}, ErrPreflightBlocked, domain.VerdictFail},
		{"low stock needs acknowledgement", "gel", StartOptions{}, ErrPreflightUnacknowledged, domain.VerdictWarning},
		{"acknowledged warning starts", "gel", StartOptions{AcknowledgeWarnings: true}, nil, domain.VerdictWarning},
		{"skip ignores the block", "spin", StartOptions{SkipPreflight: true}, nil, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := seedLab(t)
			svc := NewService(st, WithClock(fixedClock()))
			session, report, err := svc.StartExecution(context.Background(), labUser(), tc.protocol, tc.opts)
			if report.Overall != tc.verdict {
				t.Fatalf("verdict = %q, want %q", report.Overall, tc.verdict)
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				var pe *PreflightError
				if !errors.As(err, &pe) || pe.Report.Overall != tc.verdict {
					t.Fatalf("error should carry the report: %v", err)
				}
				if session != nil {
					t.Fatalf("no session may exist after a refused start")
				}
				runs, _ := st.ListExecutions(context.Background(), "lab")
				if len(runs) != 0 {
					t.Fatalf("refused start persisted %d run(s)", len(runs))
				}
				return
			}
			if err != nil || session == nil {
				t.Fatalf("start: %v", err)
			}
		})
	}
}

func TestLabIsolation(t *testing.T) {
	st := seedLab(t)
	svc := NewService(st, WithClock(fixedClock()))
	ctx := context.Background()

	_, _, err := svc.StartExecution(ctx, labUser(), "foreign", StartOptions{})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityProtocol {
		t.Fatalf("another lab's protocol must read as not found, got %v", err)
	}

	session, _, err := svc.StartExecution(ctx, labUser(), "dna", StartOptions{ExecutionID: "ex1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	outsider := domain.Principal{ActorID: "u9", LabID: "other"}
	if _, err := svc.OpenExecution(ctx, outsider, session.Execution().ID); domain.Classify(err) != domain.ClassNotFound {
		t.Fatalf("open from another lab = %v, want not found", err)
	}
	if _, err := svc.ApplyCommand(ctx, "ex1", execution.Advance{By: outsider}); domain.Classify(err) != domain.ClassNotFound {
		t.Fatalf("command from another lab = %v, want not found", err)
	}
}

func TestPrincipalWithoutLabIsRejected(t *testing.T) {
	st := seedLab(t)
	svc := NewService(st, WithClock(fixedClock()))
	ctx := context.Background()
	if _, _, err := svc.StartExecution(ctx, labUser(), "dna", StartOptions{ExecutionID: "ex1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	anon := domain.Principal{ActorID: "mallory"}
	calls := map[string]func() error{
		"list inventory": func() error { _, err := svc.ListInventory(ctx, anon); return err },
		"reorder":        func() error { _, err := svc.ReorderSuggestions(ctx, anon, ""); return err },
		"device health":  func() error { _, err := svc.DeviceHealth(ctx, anon); return err },
		"preflight":      func() error { _, err := svc.Preflight(ctx, anon, "dna", "", time.Time{}); return err },
		"start":          func() error { _, _, err := svc.StartExecution(ctx, anon, "dna", StartOptions{}); return err },
		"open":           func() error { _, err := svc.OpenExecution(ctx, anon, "ex1"); return err },
		"command":        func() error { _, err := svc.ApplyCommand(ctx, "ex1", execution.Advance{By: anon}); return err },
		"list runs":      func() error { _, err := svc.ListExecutions(ctx, anon); return err },
		"watch":          func() error { _, err := svc.WatchExecution(ctx, anon, "ex1"); return err },
		"evidence":       func() error { _, err := svc.OpenEvidence(ctx, anon, "labs/lab/a.png"); return err },
		"blank lab": func() error {
			_, err := svc.ListInventory(ctx, domain.Principal{ActorID: "u1", LabID: "  "})
			return err
		},
	}
	for name, call := range calls {
		var verr *domain.ValidationError
		if err := call(); !errors.As(err, &verr) || verr.Field != "lab_id" {
			t.Fatalf("%s without a lab = %v, want lab_id validation error", name, err)
		}
	}
}

func TestApplyCommandDeductsInBackground(t *testing.T) {
	st := seedLab(t)
	svc := NewService(st, WithClock(fixedClock()))
	ctx := context.Background()
	if _, _, err := svc.StartExecution(ctx, labUser(), "dna", StartOptions{ExecutionID: "ex1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	exec, err := svc.ApplyCommand(ctx, "ex1", execution.ToggleStep{By: labUser(), StepID: "s1"})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	rec, _ := exec.Steps.Get("s1")
	if rec.Status != domain.StepCompleted {
		t.Fatalf("step not completed: %+v", rec)
	}
	eventually(t, "EtOH deduction", func() bool { return quantityOf(t, st, "etoh") == 15 })

	exec, err = svc.ApplyCommand(ctx, "ex1", execution.Advance{By: labUser()})
	if err != nil || exec.CurrentStepIndex != 1 {
		t.Fatalf("advance: %v index=%d", err, exec.CurrentStepIndex)
	}
	if _, err := svc.ApplyCommand(ctx, "ex1", execution.Finish{By: labUser()}); !errors.Is(err, domain.ErrConfirmationRequired) {
		t.Fatalf("unconfirmed finish = %v", err)
	}
	exec, err = svc.ApplyCommand(ctx, "ex1", execution.Finish{By: labUser(), Confirmed: true, DurationSeconds: 900})
	if err != nil || exec.Status != domain.ExecutionCompleted || exec.DurationSeconds != 900 {
		t.Fatalf("finish: %v %+v", err, exec)
	}
	if _, err := svc.ApplyCommand(ctx, "ex1", execution.Advance{By: labUser()}); !errors.Is(err, domain.ErrExecutionClosed) {
		t.Fatalf("command on a finished run = %v", err)
	}
}

func TestDeductionWarningsReachMetrics(t *testing.T) {
	st := seedLab(t)
	counter := &warningCounter{}
	svc := NewService(st, WithClock(fixedClock()), WithMetricsRecorder(counter))
	ctx := context.Background()
	if _, _, err := svc.StartExecution(ctx, labUser(), "ghost", StartOptions{ExecutionID: "ex1", SkipPreflight: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.ApplyCommand(ctx, "ex1", execution.ToggleStep{By: labUser(), StepID: "s1"}); err != nil {
		t.Fatalf("toggle must not fail on a missing reagent: %v", err)
	}
	eventually(t, "not-found warning", func() bool {
		seen := counter.seen()
		return len(seen) == 1 && seen[0] == domain.ClassNotFound
	})
}

func TestAttachEvidence(t *testing.T) {
	st := seedLab(t)
	ctx := context.Background()

	bare := NewService(st, WithClock(fixedClock()))
	if _, _, err := bare.StartExecution(ctx, labUser(), "dna", StartOptions{ExecutionID: "ex1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := bare.AttachEvidence(ctx, labUser(), "ex1", "s1", strings.NewReader("img"), "image/png"); !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("upload without a sink = %v", err)
	}

	sink := media.NewSink(blob.NewMemory(), media.WithIDFunc(func() string { return "photo" }))
	svc := NewService(st, WithClock(fixedClock()), WithMediaSink(sink))
	exec, err := svc.AttachEvidence(ctx, labUser(), "ex1", "s1", strings.NewReader("img"), "image/png")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	rec, _ := exec.Steps.Get("s1")
	if len(rec.MediaURLs) != 1 || !strings.HasSuffix(rec.MediaURLs[0], "labs/lab/executions/ex1/steps/s1/photo.png") {
		t.Fatalf("unexpected media urls %v", rec.MediaURLs)
	}
}

func TestOpenEvidence(t *testing.T) {
	st := seedLab(t)
	ctx := context.Background()
	sink := media.NewSink(blob.NewMemory(), media.WithIDFunc(func() string { return "photo" }))
	svc := NewService(st, WithClock(fixedClock()), WithMediaSink(sink))
	if _, _, err := svc.StartExecution(ctx, labUser(), "dna", StartOptions{ExecutionID: "ex1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AttachEvidence(ctx, labUser(), "ex1", "s1", strings.NewReader("img"), "image/png"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	key := "labs/lab/executions/ex1/steps/s1/photo.png"

	ev, err := svc.OpenEvidence(ctx, labUser(), key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(ev.Body)
	_ = ev.Body.Close()
	if string(data) != "img" || ev.ContentType != "image/png" || ev.Size != 3 {
		t.Fatalf("unexpected evidence %q %+v", data, ev)
	}

	other := domain.Principal{ActorID: "u2", LabID: "other"}
	for _, tc := range []struct {
		name string
		by   domain.Principal
		key  string
	}{
		{"other lab", other, key},
		{"missing", labUser(), "labs/lab/executions/ex1/steps/s1/none.png"},
		{"traversal", labUser(), "labs/lab/../other/executions/e/steps/s/x.png"},
	} {
		if _, err := svc.OpenEvidence(ctx, tc.by, tc.key); domain.Classify(err) != domain.ClassNotFound {
			t.Fatalf("%s: expected not found, got %v", tc.name, err)
		}
	}

	bare := NewService(st, WithClock(fixedClock()))
	if _, err := bare.OpenEvidence(ctx, labUser(), key); !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("open without a sink = %v", err)
	}
}

func TestReorderSuggestionsWithDismissals(t *testing.T) {
	st := seedLab(t)
	svc := NewService(st, WithClock(fixedClock()))
	ctx := context.Background()

	report, err := svc.ReorderSuggestions(ctx, labUser(), "")
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	ids := suggestionIDs(report.Suggestions)
	if strings.Join(ids, ",") != "tips,buffer" {
		t.Fatalf("unexpected suggestions %v", ids)
	}
	tips := report.Suggestions[0]
	if tips.Priority != domain.PriorityHigh || tips.SuggestedOrderQty != 7 || tips.EstimatedCost.StringFixed(2) != "23.31" {
		t.Fatalf("unexpected tips suggestion %+v", tips)
	}
	if len(tips.ChargeToAccounts) != 1 || tips.ChargeToAccounts[0].Account != "GRANT" {
		t.Fatalf("tips should be charged to the PCR project: %+v", tips.ChargeToAccounts)
	}
	if report.Summary.Total != 2 || report.Summary.ByPriority[domain.PriorityLow] != 1 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}

	if err := svc.DismissSuggestion(ctx, labUser(), "s1", "tips"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	mine, _ := svc.ReorderSuggestions(ctx, labUser(), "s1")
	theirs, _ := svc.ReorderSuggestions(ctx, labUser(), "s2")
	if got := strings.Join(suggestionIDs(mine.Suggestions), ","); got != "buffer" {
		t.Fatalf("dismissed session sees %s", got)
	}
	if len(theirs.Suggestions) != 2 {
		t.Fatalf("dismissals leaked into another session")
	}
	if quantityOf(t, st, "tips") != 3 {
		t.Fatalf("dismissing must not touch inventory")
	}
	if err := svc.ClearDismissals(ctx, labUser(), "s1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	mine, _ = svc.ReorderSuggestions(ctx, labUser(), "s1")
	if len(mine.Suggestions) != 2 {
		t.Fatalf("clear should restore suggestions")
	}
	if err := svc.DismissSuggestion(ctx, labUser(), "", "tips"); !domain.IsValidation(err) {
		t.Fatalf("empty session = %v, want validation", err)
	}
}

func suggestionIDs(s []domain.ReorderSuggestion) []string {
	out := make([]string, 0, len(s))
	for _, sug := range s {
		out = append(out, sug.InventoryItemID)
	}
	return out
}

func TestDeviceHealthWorstFirst(t *testing.T) {
	svc := NewService(seedLab(t), WithClock(fixedClock()))
	devices, err := svc.DeviceHealth(context.Background(), labUser())
	if err != nil {
		t.Fatalf("device health: %v", err)
	}
	if len(devices) != 2 || devices[0].DeviceID != "cent" {
		t.Fatalf("unexpected order %+v", devices)
	}
	if !devices[0].MaintenanceOver || devices[0].Severity != health.SeverityCritical {
		t.Fatalf("centrifuge should be overdue and critical: %+v", devices[0])
	}
	if devices[1].SuppliesHealth != 15 {
		t.Fatalf("pcr supplies health = %v, want 15", devices[1].SuppliesHealth)
	}
}

func TestListInventoryDerivesLevels(t *testing.T) {
	svc := NewService(seedLab(t), WithClock(fixedClock()))
	items, err := svc.ListInventory(context.Background(), labUser())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	levels := make(map[string]domain.StockLevel)
	for _, it := range items {
		levels[it.Item.ID] = it.Level
	}
	want := map[string]domain.StockLevel{"etoh": domain.LevelOK, "tips": domain.LevelLow, "buffer": domain.LevelLow}
	if len(levels) != len(want) {
		t.Fatalf("lab scoping failed: %v", levels)
	}
	for id, lvl := range want {
		if levels[id] != lvl {
			t.Fatalf("%s level = %s, want %s", id, levels[id], lvl)
		}
	}
}

func TestPreflightByVersion(t *testing.T) {
	svc := NewService(seedLab(t), WithClock(fixedClock()))
	ctx := context.Background()
	report, err := svc.Preflight(ctx, labUser(), "dna", "", fixedNow)
	if err != nil || report.Overall != domain.VerdictPass {
		t.Fatalf("preflight: %v %+v", err, report)
	}
	if _, err := svc.Preflight(ctx, labUser(), "dna", "v9", fixedNow); domain.Classify(err) != domain.ClassNotFound {
		t.Fatalf("unknown version = %v", err)
	}
	if _, err := svc.Preflight(ctx, labUser(), "", "", fixedNow); !domain.IsValidation(err) {
		t.Fatalf("missing protocol id = %v", err)
	}
	adhoc, err := svc.CheckRequirements(ctx, labUser(), []domain.ResourceRequirement{{Type: domain.ResourceReagent, Name: "etoh", QuantityNeeded: 25}}, domain.TimeWindow{})
	if err != nil || adhoc.Overall != domain.VerdictFail {
		t.Fatalf("ad-hoc check: %v %+v", err, adhoc)
	}
}

func TestWatchExecution(t *testing.T) {
	svc := NewService(seedLab(t), WithClock(fixedClock()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, _, err := svc.StartExecution(ctx, labUser(), "dna", StartOptions{ExecutionID: "ex1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	updates, err := svc.WatchExecution(ctx, labUser(), "ex1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := svc.ApplyCommand(ctx, "ex1", execution.Advance{By: labUser()}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	for exec := range updates {
		if exec.CurrentStepIndex == 1 {
			return
		}
	}
	t.Fatalf("update stream closed before the advance arrived")
}
