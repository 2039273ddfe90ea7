package command

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codeaudit/cougaar-core-sub004/internal/blackboard"
	"github.com/codeaudit/cougaar-core-sub004/internal/config"
	"github.com/codeaudit/cougaar-core-sub004/internal/infra/confloader"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist"
	"github.com/codeaudit/cougaar-core-sub004/internal/persist/delta"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/file"
	"github.com/codeaudit/cougaar-core-sub004/internal/workload"
)

const (
	testAgent = "agent-1"
	testKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

// fixture is an agent configuration whose file backend holds five deltas
// written with consolidation period 2 and archiving on: the archived set
// [0,3) and the current set [3,5).
type fixture struct {
	configPath string
	backend    *file.Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "ckpt")
	configPath := filepath.Join(dir, "agent.yaml")
	yaml := fmt.Sprintf(`agent:
  name: %s
persistence:
  compression: zstd
  encryption_key: %s
  backends:
    - type: file
      path: %s
      interval: 10s
      consolidation_period: 2
`, testAgent, testKey, data)
	if err := os.WriteFile(configPath, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := confloader.LoadAgentConfig(configPath, nil)
	if err != nil {
		t.Fatalf("LoadAgentConfig() error = %v", err)
	}
	frame, err := config.FrameOptions(cfg)
	if err != nil {
		t.Fatalf("FrameOptions() error = %v", err)
	}
	reg := delta.NewRegistry()
	if err := workload.Register(reg); err != nil {
		t.Fatal(err)
	}

	fb, err := file.New(file.Config{
		Options: storage.Options{Agent: testAgent, Logger: slog.New(slog.DiscardHandler)},
		Root:    data,
		NoSync:  true,
	})
	if err != nil {
		t.Fatalf("file.New() error = %v", err)
	}
	p, err := persist.New(context.Background(), persist.Config{
		Agent:    testAgent,
		Backends: []persist.BackendSpec{{Backend: fb, Interval: 10 * time.Second, ConsolidationPeriod: 2}},
		Registry: reg,
		Host:     persist.NewHost(),
		Frame:    frame,
		Logger:   slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("persist.New() error = %v", err)
	}
	defer p.Close()

	bb := blackboard.New()
	gen, err := workload.NewGenerator(bb, "planner", workload.WithSeed(7))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := gen.Step(); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Persist(context.Background(), bb, false); err != nil {
			t.Fatalf("Persist() %d error = %v", i, err)
		}
	}
	return &fixture{configPath: configPath, backend: fb}
}

// corrupt flips the last byte of delta n.
func (f *fixture) corrupt(t *testing.T, n int) {
	t.Helper()
	path := f.backend.DeltaPath(n)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}

// run executes ckptctl with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := App()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"ckptctl"}, args...))
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}
