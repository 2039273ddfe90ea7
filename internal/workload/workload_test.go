package workload

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/blackboard"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/file"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/storagetest"
)

const owner = "planner"

func TestNewID(t *testing.T) {
	id, err := NewID(TaskIDPrefix, time.Now())
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if !strings.HasPrefix(id, TaskIDPrefix) || len(id) != len(TaskIDPrefix)+26 {
		t.Fatalf("NewID() = %q, want %s followed by 26 characters", id, TaskIDPrefix)
	}
	if id != strings.ToLower(id) {
		t.Fatalf("NewID() = %q, want lowercase", id)
	}
}

func TestGenerator_Step(t *testing.T) {
	bb := blackboard.New()
	g, err := NewGenerator(bb, owner, WithSeed(1), WithLimits(2, 6))
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := g.Step(); err != nil {
			t.Fatalf("Step() %d error = %v", i, err)
		}
	}

	var assets, tasks int
	for _, o := range bb.Objects(owner) {
		switch o.(type) {
		case *Asset:
			assets++
		case *Task:
			tasks++
		}
	}
	if assets != 2 {
		t.Fatalf("assets = %d, want 2", assets)
	}
	if tasks > 6 {
		t.Fatalf("tasks = %d, want at most 6", tasks)
	}

	c := g.Cursor()
	if c.Steps != 20 || c.Tasks != 20 || c.Assets != 2 {
		t.Fatalf("Cursor() = %+v, want 20 steps, 20 tasks, 2 assets", c)
	}
	if c.Retired == 0 {
		t.Fatal("Cursor().Retired = 0, want finished tasks retired")
	}
}

func TestGenerator_ResumesCursor(t *testing.T) {
	bb := blackboard.New()
	g, err := NewGenerator(bb, owner, WithSeed(2))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := g.Step(); err != nil {
			t.Fatal(err)
		}
	}

	g2, err := NewGenerator(bb, owner, WithSeed(3))
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	if got := g2.Cursor().Steps; got != 3 {
		t.Fatalf("resumed Steps = %d, want 3", got)
	}
}

func TestTask_Allocation(t *testing.T) {
	a := &Asset{ID: "asset-1", Capacity: 1}
	tk := &Task{ID: "task-1"}
	tk.allocate(a)
	if a.Free() || a.Load() != 1 {
		t.Fatalf("after allocate: Load() = %d, Free() = %v, want 1, false", a.Load(), a.Free())
	}
	tk.complete()
	tk.complete()
	if a.Load() != 0 {
		t.Fatalf("after complete: Load() = %d, want 0", a.Load())
	}
}

func TestWorkload_Rehydrate(t *testing.T) {
	root := t.TempDir()
	reg := delta.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	open := func() *persist.Persister {
		fb, err := file.New(file.Config{Options: storagetest.Options("agent-1"), Root: root, NoSync: true})
		if err != nil {
			t.Fatal(err)
		}
		p, err := persist.New(context.Background(), persist.Config{
			Agent:    "agent-1",
			Backends: []persist.BackendSpec{{Backend: fb, Interval: time.Second, ConsolidationPeriod: 3}},
			Registry: reg,
			Host:     persist.NewHost(),
			Logger:   slog.New(slog.DiscardHandler),
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { p.Close() })
		return p
	}

	bb := blackboard.New()
	g, err := NewGenerator(bb, owner, WithSeed(4), WithLimits(3, 10))
	if err != nil {
		t.Fatal(err)
	}
	p := open()
	for i := 0; i < 12; i++ {
		if err := g.Step(); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Persist(context.Background(), bb, false); err != nil {
			t.Fatalf("Persist() %d error = %v", i, err)
		}
	}
	p.Close()

	want := make(map[string]int64)
	for _, o := range bb.Objects(owner) {
		if a, ok := o.(*Asset); ok {
			want[a.ID] = a.Load()
		}
	}

	res, err := open().Rehydrate(context.Background())
	if err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}
	restored := blackboard.New()
	restored.Restore(res)
	if restored.Count() != bb.Count() {
		t.Fatalf("restored Count() = %d, want %d", restored.Count(), bb.Count())
	}
	for id, load := range want {
		o, ok := restored.Get(id)
		if !ok {
			t.Fatalf("asset %s not restored", id)
		}
		if got := o.(*Asset).Load(); got != load {
			t.Fatalf("asset %s Load() = %d, want %d", id, got, load)
		}
	}

	g2, err := NewGenerator(restored, owner)
	if err != nil {
		t.Fatal(err)
	}
	if got := g2.Cursor().Steps; got != 12 {
		t.Fatalf("resumed Steps = %d, want 12", got)
	}
}
