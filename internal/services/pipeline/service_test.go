package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xelth-com/reportsync/internal/database"
	"github.com/xelth-com/reportsync/internal/database/dbtest"
	"github.com/xelth-com/reportsync/internal/executor"
	"github.com/xelth-com/reportsync/internal/ledger"
	"github.com/xelth-com/reportsync/internal/mapping"
	"github.com/xelth-com/reportsync/internal/models"
	"go.uber.org/zap"
)

type recorder struct {
	events chan ledger.Event
}

func (r *recorder) Notify(e ledger.Event) {
	select {
	case r.events <- e:
	default:
	}
}

func newService(t *testing.T, interval time.Duration) (*database.DB, *Service) {
	t.Helper()
	db := dbtest.New(t)
	l := ledger.New(db.DB)
	gen := mapping.NewGenerator(db, l, zap.NewNop(), mapping.Options{ParseCheck: true})
	ex := executor.New(db, l, zap.NewNop(), executor.Options{RowCap: 10, StaleAfter: 72 * time.Hour, MaxAttempts: 50, ParseCheck: true})
	return db, NewService(gen, ex, l, zap.NewNop(), Config{PollInterval: interval})
}

func seed(t *testing.T, db *database.DB) models.Document {
	t.Helper()
	dbtest.Exec(t, db, "CREATE TABLE target (sn TEXT, result TEXT)")
	dbtest.Exec(t, db, "INSERT INTO target (sn) VALUES ('SN001')")

	rule := models.MappingRule{
		Name:              "result",
		IsActive:          true,
		SourceMatchField:  "sn",
		SourceDataField:   "result",
		TargetTable:       "target",
		TargetMatchField:  "sn",
		TargetUpdateField: "result",
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}
	doc := models.Document{Format: "report", Rows: []models.Row{
		{RowNumber: 1, FieldName: "sn", Value: "SN001"},
		{RowNumber: 1, FieldName: "result", Value: "PASS"},
	}}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func TestRunPassMapsAndExecutes(t *testing.T) {
	db, svc := newService(t, time.Minute)
	seed(t, db)

	p, err := svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	if p.Status != StatusSuccess || p.Documents != 1 || p.Generated != 1 || p.Executed != 1 || p.Succeeded != 1 {
		t.Errorf("unexpected pass summary: %+v", p)
	}
	if dbtest.Count(t, db, "target", "sn = ? AND result = ?", "SN001", "PASS") != 1 {
		t.Error("target row not updated")
	}
	if dbtest.Count(t, db, "pass_history", "run_id = ?", p.RunID) != 1 {
		t.Error("pass summary not stored")
	}
	if last, ok := svc.State().Last(); !ok || last.RunID != p.RunID {
		t.Error("run state should hold the last pass")
	}

	p, err = svc.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second RunPass failed: %v", err)
	}
	if p.Documents != 0 || p.Executed != 0 {
		t.Errorf("second pass should find nothing to do: %+v", p)
	}
}

func TestRunPassSkipsWhileRunning(t *testing.T) {
	_, svc := newService(t, time.Minute)

	if !svc.State().TryAcquire() {
		t.Fatal("gate should be free")
	}
	defer svc.State().Release()

	if _, err := svc.RunPass(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected ErrPassInProgress, got %v", err)
	}
	if snap := svc.State().Snapshot(); snap.SkippedTicks != 1 {
		t.Errorf("skipped ticks = %d, want 1", snap.SkippedTicks)
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	db, svc := newService(t, 20*time.Millisecond)
	seed(t, db)
	rec := &recorder{events: make(chan ledger.Event, 16)}
	svc.WithNotifier(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case e := <-rec.events:
		if e.Type != ledger.EventPassCompleted {
			t.Errorf("unexpected event %q", e.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no pass completed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if svc.State().Running() {
		t.Error("no pass should be running after Run returns")
	}
	if !svc.State().StopRequested() {
		t.Error("stop flag should be set on shutdown")
	}
}

func TestStopEndsLoop(t *testing.T) {
	_, svc := newService(t, time.Hour)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	svc.Stop()
	svc.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
