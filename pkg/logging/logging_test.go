package logging

import "testing"

func TestNoOpNeverPanics(t *testing.T) {
	var l Logger = NoOp{}
	l.Debug("x")
	l.Info("x", "k", "v")
	l.Warn("x")
	l.Error("x", "err", "boom")
}

func TestNewReturnsUsableLogger(t *testing.T) {
	l := New()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	l.Info("engine started", "component", "test")
}
