package null

import (
	"context"
	"errors"
	"testing"

	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
)

func TestDiscards(t *testing.T) {
	ctx := context.Background()
	b := New("")
	if b.Name() != "null" {
		t.Fatalf("Name() = %q, want null", b.Name())
	}
	w, err := b.OpenOutput(ctx, 0, true)
	if err != nil {
		t.Fatalf("OpenOutput error = %v", err)
	}
	if n, err := w.Write([]byte("abc")); n != 3 || err != nil {
		t.Fatalf("Write = %d, %v, want 3, nil", n, err)
	}
	w.Close()
	if err := b.FinishOutput(ctx, storage.SequenceNumbers{First: 0, Current: 1}, true); err != nil {
		t.Fatalf("FinishOutput error = %v", err)
	}
	sets, err := b.ReadSequenceNumbers(ctx, "")
	if err != nil || len(sets) != 0 {
		t.Fatalf("ReadSequenceNumbers = %v, %v, want none", sets, err)
	}
	if _, err := b.OpenInput(ctx, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("OpenInput error = %v, want ErrNotFound", err)
	}
}
