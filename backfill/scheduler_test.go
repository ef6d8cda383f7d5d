package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestValidateCron(t *testing.T) {
	for _, spec := range []string{"0 17 * * *", "*/15 * * * *", "@daily"} {
		if err := ValidateCron(spec); err != nil {
			t.Errorf("ValidateCron(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"", "not a cron", "61 * * * *", "0 17 * *"} {
		if err := ValidateCron(spec); err == nil {
			t.Errorf("ValidateCron(%q) accepted", spec)
		}
	}
}

func newTestScheduler(opts SchedulerOptions) *Scheduler {
	orch, _ := newTestOrchestrator(standardFetcher(), fakeSessions{}, newFakeStore())
	return NewScheduler(orch, opts, zap.NewNop())
}

func TestSchedulerStartStop(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s := newTestScheduler(SchedulerOptions{Location: la})

	status := s.Status()
	if status.Running || status.CronExpression != DefaultCron || status.Timezone != "America/Los_Angeles" || status.NextRun != nil {
		t.Fatalf("unexpected idle status: %+v", status)
	}

	if err := s.Start("bogus"); err == nil {
		t.Fatal("expected invalid cron error")
	}
	if s.Running() {
		t.Fatal("invalid expression started the scheduler")
	}

	if err := s.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status = s.Status()
	if !status.Running || status.NextRun == nil {
		t.Fatalf("unexpected running status: %+v", status)
	}
	next := status.NextRun.In(la)
	if next.Hour() != 17 || next.Minute() != 0 {
		t.Fatalf("next run %s is not 17:00 in Los Angeles", next)
	}

	if err := s.Start("30 6 * * *"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := s.Status().CronExpression; got != "30 6 * * *" {
		t.Fatalf("CronExpression = %q", got)
	}

	s.Stop()
	if s.Running() || s.Status().NextRun != nil {
		t.Fatal("scheduler still running after Stop")
	}
	s.Stop()

	// Start with no argument reuses the last expression.
	if err := s.Start(""); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if got := s.Status().CronExpression; got != "30 6 * * *" {
		t.Fatalf("CronExpression = %q after restart", got)
	}
}

func TestSchedulerTickRecordsResult(t *testing.T) {
	s := newTestScheduler(SchedulerOptions{Location: time.UTC})
	if s.LastResult() != nil {
		t.Fatal("unexpected result before any run")
	}

	s.tick()

	result := s.LastResult()
	if result == nil || result.Source != SourceScheduler || result.SuccessfulDates != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	status := s.Status()
	if status.LastRun == nil || status.LastError != "" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSchedulerServe(t *testing.T) {
	s := newTestScheduler(SchedulerOptions{Location: time.UTC, AutoStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("Serve did not start the scheduler")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if s.Running() {
		t.Fatal("scheduler still running after Serve returned")
	}
}
