package engine

import (
	"context"
	"sort"
	"testing"

	"go.uber.org/zap"
)

// Локальный режим (без Redis): состояние живет только в памяти процесса.
func TestIsolationManagerLocalMode(t *testing.T) {
	m := NewIsolationManager(nil, zap.NewNop())
	ctx := context.Background()

	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init без Redis: %v", err)
	}
	if m.IsIsolated("vm1") {
		t.Error("свежий менеджер считает vm1 изолированной")
	}

	m.MarkIsolated(ctx, "vm1")
	m.MarkIsolated(ctx, "vm2")
	m.MarkIsolated(ctx, "vm1") // идемпотентно

	if !m.IsIsolated("vm1") || !m.IsIsolated("vm2") {
		t.Error("пометка изоляции не применилась")
	}
	got := m.List()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "vm1" || got[1] != "vm2" {
		t.Errorf("List = %v", got)
	}

	m.ClearIsolated(ctx, "vm1")
	if m.IsIsolated("vm1") {
		t.Error("изоляция vm1 не снята")
	}
	if !m.IsIsolated("vm2") {
		t.Error("снятие vm1 задело vm2")
	}
}

func TestIsolationManagerReplace(t *testing.T) {
	m := NewIsolationManager(nil, zap.NewNop())
	m.MarkIsolated(context.Background(), "stale")

	m.replace([]string{"vm7", "vm8"})

	if m.IsIsolated("stale") {
		t.Error("replace не вытеснил старое состояние")
	}
	if !m.IsIsolated("vm7") || !m.IsIsolated("vm8") {
		t.Error("replace не применил новое состояние")
	}
}
