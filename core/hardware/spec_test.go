package hardware

import "testing"

func TestCapture(t *testing.T) {
	spec := Capture("RTX 4090")

	if spec.GPU != "RTX 4090" {
		t.Fatalf("expected gpu to pass through, got %q", spec.GPU)
	}
	if spec.Cores <= 0 {
		t.Fatalf("expected positive core count, got %d", spec.Cores)
	}
	if spec.OS == "" || spec.Arch == "" {
		t.Fatalf("expected os and arch, got %+v", spec)
	}
}
