package incident

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"labcore/internal/logging"
	"labcore/pkg/domain"
)

func sample(id string) domain.Incident {
	return domain.Incident{ID: id, LabID: "lab1", ExecutionID: "ex1", StepID: "s1", Message: "tube cracked"}
}

func TestLogSinkWritesWarn(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	NewLogSink(logging.NewZap(zap.New(core))).Report(context.Background(), sample("i1"))
	entries := logs.FilterMessage("step incident reported").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level = %s", entries[0].Level)
	}
	if got := entries[0].ContextMap()["step_id"]; got != "s1" {
		t.Fatalf("step_id = %v", got)
	}
}

func TestFanoutSkipsNil(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Fanout{a, nil, b}.Report(context.Background(), sample("i1"))
	if len(a.Incidents()) != 1 || len(b.Incidents()) != 1 {
		t.Fatalf("fanout did not reach every sink")
	}
}

type blockingSink struct {
	release chan struct{}
	rec     Recorder
}

func (s *blockingSink) Report(ctx context.Context, in domain.Incident) {
	<-s.release
	s.rec.Report(ctx, in)
}

func TestDispatcherDeliversAsynchronously(t *testing.T) {
	down := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(down, 4, nil)

	done := make(chan struct{})
	go func() {
		d.Report(context.Background(), sample("i1"))
		d.Report(context.Background(), sample("i2"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Report blocked on a slow sink")
	}
	close(down.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(down.rec.Incidents()); got != 2 {
		t.Fatalf("delivered %d incidents, want 2", got)
	}
	d.Report(context.Background(), sample("late"))
	if got := len(down.rec.Incidents()); got != 2 {
		t.Fatalf("incident after close must be dropped")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	down := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(down, 1, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Report(context.Background(), sample("x"))
		}()
	}
	wg.Wait()
	if d.Dropped() == 0 {
		t.Fatalf("expected drops with a one-slot queue and a stalled sink")
	}
	close(down.release)
	_ = d.Close(context.Background())
}
