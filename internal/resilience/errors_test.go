package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("unknown category"), false},
		{"explicit", NewTransientError(errors.New("busy")), true},
		{"wrapped explicit", fmt.Errorf("graph cache: %w", NewTransientError(errors.New("busy"))), true},
		{"conn reset", fmt.Errorf("redis: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("neo4j: %w", syscall.ECONNREFUSED), true},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"message pattern", errors.New("read tcp 10.0.0.1:6379: i/o timeout"), true},
		{"pool exhausted", errors.New("redis: connection pool exhausted"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner)
	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to find inner error")
	}
	if te.Error() != "inner" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
