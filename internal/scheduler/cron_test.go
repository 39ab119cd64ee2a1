package scheduler

import (
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

func TestNextFire_EveryMinute(t *testing.T) {
	expr := domain.TimerExpr{Sec: "0", Min: "*", Hour: "*", Dom: "*", Mon: "*", Dow: "*"}
	after := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)

	next, err := nextFire(expr, after)
	if err != nil {
		t.Fatalf("nextFire: %v", err)
	}
	want := time.Date(2026, 1, 1, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextFire_InvalidExpr(t *testing.T) {
	expr := domain.TimerExpr{Sec: "99", Min: "*", Hour: "*", Dom: "*", Mon: "*", Dow: "*"}
	if _, err := nextFire(expr, time.Now()); err == nil {
		t.Fatal("expected error for out-of-range seconds field")
	}
}
