package activation

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// TestResolveCatalog verifies every supported activation name resolves and
// keeps its name.
func TestResolveCatalog(t *testing.T) {
	names := []string{"none", "relu", "leaky_relu", "sigmoid", "tanh", "elu", "sine"}
	for _, name := range names {
		fn, err := Resolve(name)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", name, err)
			continue
		}
		if fn.Name != name {
			t.Errorf("Resolve(%q) returned name %q", name, fn.Name)
		}
		if fn.Apply == nil || fn.Derivative == nil {
			t.Errorf("Resolve(%q) returned nil function pointers", name)
		}
	}
}

// TestResolveUnknown verifies unknown names fail with the sentinel error and
// mention the offending value.
func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("swish")
	if err == nil {
		t.Fatal("Expected error for unknown activation name")
	}
	if !errors.Is(err, ErrUnsupportedActivation) {
		t.Errorf("Expected ErrUnsupportedActivation, got %v", err)
	}
}

// TestSineFrequency verifies the sine activation computes sin(30x) and its
// derivative 30*cos(30x).
func TestSineFrequency(t *testing.T) {
	fn, err := Resolve("sine")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	inputs := []float64{-1.0, -0.3, 0.0, 0.1, 0.5, 1.0}
	for _, x := range inputs {
		y := fn.Apply(x)
		want := math.Sin(30 * x)
		if math.Abs(y-want) > 1e-12 {
			t.Errorf("sine(%f) = %f, want %f", x, y, want)
		}

		d := fn.Derivative(x, y)
		wantD := 30 * math.Cos(30*x)
		if math.Abs(d-wantD) > 1e-12 {
			t.Errorf("sine'(%f) = %f, want %f", x, d, wantD)
		}
	}
}

// TestDerivativesMatchFiniteDifferences checks each activation's derivative
// against a central finite difference.
func TestDerivativesMatchFiniteDifferences(t *testing.T) {
	names := []string{"none", "leaky_relu", "sigmoid", "tanh", "elu", "sine"}
	inputs := []float64{-2.0, -0.7, 0.3, 1.5}
	const h = 1e-6

	for _, name := range names {
		fn, err := Resolve(name)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", name, err)
		}
		for _, x := range inputs {
			y := fn.Apply(x)
			got := fn.Derivative(x, y)
			want := (fn.Apply(x+h) - fn.Apply(x-h)) / (2 * h)
			if math.Abs(got-want) > 1e-4*(1+math.Abs(want)) {
				t.Errorf("%s'(%f) = %f, finite difference gives %f", name, x, got, want)
			}
		}
	}
}

// TestSineInitRange verifies hidden-layer sine weights stay within
// [-sqrt(6/fanIn)/30, sqrt(6/fanIn)/30] and are not degenerate.
func TestSineInitRange(t *testing.T) {
	fanIn := 256
	weights := make([]float64, fanIn*64)
	rng := rand.New(rand.NewSource(1))
	SineInit(weights, fanIn, rng)

	bound := math.Sqrt(6/float64(fanIn)) / SineFrequency
	nonzero := 0
	for i, w := range weights {
		if math.Abs(w) > bound {
			t.Fatalf("weight[%d] = %g outside bound %g", i, w, bound)
		}
		if w != 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		t.Error("All initialized weights are zero")
	}
}

// TestFirstLayerSineInitRange verifies first-layer sine weights stay within
// [-1/fanIn, 1/fanIn].
func TestFirstLayerSineInitRange(t *testing.T) {
	fanIn := 39
	weights := make([]float64, fanIn*128)
	rng := rand.New(rand.NewSource(2))
	FirstLayerSineInit(weights, fanIn, rng)

	bound := 1 / float64(fanIn)
	for i, w := range weights {
		if math.Abs(w) > bound {
			t.Fatalf("weight[%d] = %g outside bound %g", i, w, bound)
		}
	}
}

// TestSigmoidRange verifies the output squash maps into (0, 1).
func TestSigmoidRange(t *testing.T) {
	for _, x := range []float64{-50, -5, 0, 5, 50} {
		y := SigmoidFn(x)
		if y <= 0 || y >= 1 {
			t.Errorf("sigmoid(%f) = %f outside (0, 1)", x, y)
		}
	}
	if math.Abs(SigmoidFn(0)-0.5) > 1e-12 {
		t.Errorf("sigmoid(0) = %f, want 0.5", SigmoidFn(0))
	}
}
