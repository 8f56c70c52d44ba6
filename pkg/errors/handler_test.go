package errors

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

type recordingPublisher struct {
	mu    sync.Mutex
	codes []int
}

func (p *recordingPublisher) PublishDiagnostic(ctx context.Context, code int, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, code)
	return nil
}

func TestErrorHandlerPublishesDiagnosticForEachKind(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewErrorHandler(pub)

	h.Handle(context.Background(), NewConfigurationError("load", fmt.Errorf("bad json"), "buses"))
	h.Handle(context.Background(), NewTransportError("connect", fmt.Errorf("timeout"), "p1", Retryable))
	h.Handle(context.Background(), NewRegistryError("register", fmt.Errorf("refused"), "dev1"))
	h.Handle(context.Background(), nil) // must be a no-op

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.codes) != 3 {
		t.Fatalf("expected 3 published diagnostics, got %d: %v", len(pub.codes), pub.codes)
	}
	want := []int{1, 2, 5}
	for i, code := range want {
		if pub.codes[i] != code {
			t.Fatalf("diagnostic %d: expected code %d, got %d", i, code, pub.codes[i])
		}
	}
}

func TestErrorHandlerWithoutPublisherStillLogsAndDoesNotPanic(t *testing.T) {
	h := NewErrorHandler(nil)
	h.Handle(context.Background(), NewProtocolError("read", fmt.Errorf("short read"), 1, 0x100))
}

func TestIsRecoverable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"configuration always fatal", NewConfigurationError("load", fmt.Errorf("x"), "f"), false},
		{"non-critical transport recoverable", NewTransportError("op", fmt.Errorf("x"), "p1", Retryable), true},
		{"generic error recoverable", fmt.Errorf("plain"), true},
	}
	for _, c := range cases {
		if got := IsRecoverable(c.err); got != c.want {
			t.Errorf("%s: IsRecoverable() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestGetDiagnosticCode(t *testing.T) {
	if code := GetDiagnosticCode(nil); code != 0 {
		t.Errorf("expected code 0 for nil, got %d", code)
	}
	if code := GetDiagnosticCode(NewLifecycleError("read", "dev1")); code != 4 {
		t.Errorf("expected code 4, got %d", code)
	}
	if code := GetDiagnosticCode(fmt.Errorf("untyped")); code != 99 {
		t.Errorf("expected code 99 for untyped error, got %d", code)
	}
}
