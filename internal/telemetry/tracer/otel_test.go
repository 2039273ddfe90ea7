package tracer

import (
	"context"
	"errors"
	"testing"
)

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "epoch", Agent("a"), Backend("file"), Delta(3), Full(true), Objects(2))
	defer span.End()

	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}
}

func TestFail(t *testing.T) {
	_, span := StartSpan(context.Background(), "epoch")
	defer span.End()

	// Should not panic with either value
	Fail(span, nil)
	Fail(span, errors.New("boom"))
}

func TestTracer(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer() returned nil")
	}
}
