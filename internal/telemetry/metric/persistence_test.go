package metric

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPersistence(t *testing.T) {
	p := NewPersistence()
	if p == nil {
		t.Fatal("NewPersistence() returned nil")
	}
	if p.Registerer() == nil {
		t.Error("Registerer() returned nil")
	}
}

func TestObserveEpoch(t *testing.T) {
	p := NewPersistence()

	p.ObserveEpoch(EpochResult{Agent: "a", Backend: "file", Full: true, Duration: 5 * time.Millisecond, Bytes: 1024, Objects: 3})
	p.ObserveEpoch(EpochResult{Agent: "a", Backend: "file", Duration: time.Millisecond, Bytes: 64, Objects: 1})
	p.ObserveEpoch(EpochResult{Agent: "a", Backend: "file", Err: errors.New("disk full")})

	if got := testutil.ToFloat64(p.EpochsTotal.WithLabelValues("a", "file", "full", OutcomeOK)); got != 1 {
		t.Errorf("full ok epochs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.EpochsTotal.WithLabelValues("a", "file", "incremental", OutcomeFailed)); got != 1 {
		t.Errorf("failed epochs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.ObjectsWritten.WithLabelValues("a", "file")); got != 4 {
		t.Errorf("objects written = %v, want 4", got)
	}
}

func TestSetAssociations(t *testing.T) {
	p := NewPersistence()
	p.SetAssociations("a", 12)

	if got := testutil.ToFloat64(p.Associations.WithLabelValues("a")); got != 12 {
		t.Errorf("associations = %v, want 12", got)
	}
}

func TestObserveRehydration(t *testing.T) {
	p := NewPersistence()
	p.ObserveRehydration("a", true, time.Millisecond)
	p.ObserveRehydration("a", false, time.Millisecond)

	if got := testutil.ToFloat64(p.Rehydrations.WithLabelValues("a", "restored")); got != 1 {
		t.Errorf("restored = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.Rehydrations.WithLabelValues("a", "empty")); got != 1 {
		t.Errorf("empty = %v, want 1", got)
	}
}

func TestNilPersistence(t *testing.T) {
	var p *Persistence

	// Should not panic
	p.ObserveEpoch(EpochResult{Agent: "a"})
	p.SetAssociations("a", 1)
	p.ObserveRehydration("a", true, 0)

	if p.Registerer() != nil {
		t.Error("nil Persistence should have a nil Registerer")
	}
}

func TestHandler(t *testing.T) {
	p := NewPersistence()
	p.SetAssociations("a", 2)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `ckpt_associations{agent="a"} 2`) {
		t.Errorf("body missing ckpt_associations sample:\n%s", body)
	}
}
