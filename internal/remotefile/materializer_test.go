package remotefile

import (
	"context"
	"testing"
)

func TestNewCommandMaterializerEmptyCommand(t *testing.T) {
	if _, ok := NewCommandMaterializer("  ").(NopMaterializer); !ok {
		t.Fatalf("empty command should disable materialization")
	}
}

func TestCommandMaterializerReportsMissingBinary(t *testing.T) {
	m := NewCommandMaterializer("health-analytics-missing-binary")
	if err := m.Materialize(context.Background(), "/tmp/day.json"); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}
