// Package field implements the coordinate-conditioned neural field at the
// heart of the reconstruction pipeline: a feed-forward stack mapping a 3D
// coordinate (optionally concatenated with a per-volume latent code) to a
// scalar density in (0, 1).
//
// The network keeps explicit forward and backward passes. Forward caches the
// per-layer inputs and pre-activations it needs; Backward consumes a gradient
// with respect to the network output and accumulates parameter gradients,
// returning the gradient with respect to the input features so the caller can
// route the latent slice back into the latent table. Coordinates are leaves:
// no gradient is propagated through the encoder.
package field

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"neurotomo/pkg/activation"
)

// ErrShapeMismatch indicates tensor dimensions inconsistent with the
// network's configuration. It is fatal; the caller is expected to abort.
var ErrShapeMismatch = errors.New("field: shape mismatch")

// CoordinateDim is the dimensionality of raw input coordinates.
const CoordinateDim = 3

// Encoder maps raw coordinates to a higher-dimensional feature embedding
// before the first linear layer. It is an external collaborator; a nil
// encoder passes raw coordinates through.
type Encoder interface {
	// Encode maps an [n, 3] coordinate matrix to [n, OutputDim()] features.
	Encode(pts *mat.Dense) *mat.Dense

	// OutputDim reports the embedding width, queryable at construction time.
	OutputDim() int
}

// Parameter is one flat block of learnable values and its accumulated
// gradient. The optimizer mutates Data between steps; forward and loss
// computation only read it.
type Parameter struct {
	Name string
	Data []float64
	Grad []float64
}

// Options configures network construction. All values are fixed for the
// lifetime of the network.
type Options struct {
	NumHiddenLayers int
	HiddenFeatures  int
	Activation      string
	LatentSize      int
	NumVolumes      int
	Imagefit        bool
	Encoder         Encoder
	Seed            int64
}

// Network is the feed-forward field: input linear layer, activation,
// NumHiddenLayers repetitions of (linear, activation), and a final linear
// layer to one output squashed by a logistic sigmoid.
type Network struct {
	act       activation.Function
	layers    []*linear // input layer + hidden layers, each followed by act
	out       *linear   // hidden -> 1, followed by sigmoid
	encoder   Encoder
	latent    *LatentTable // nil outside imagefit mode
	inputDim  int          // encoded coordinate width
	featDim   int          // inputDim plus latent width
	latentDim int

	// forward caches, overwritten every call
	outPre *mat.Dense // pre-sigmoid output
	outAct *mat.Dense // sigmoid output
}

type linear struct {
	in, out int
	w       []float64 // row-major [in, out]
	b       []float64
	dw      []float64
	db      []float64

	// caches from the last forward pass
	input  *mat.Dense // [n, in]
	preact *mat.Dense // [n, out]
	act    *mat.Dense // [n, out], nil for the output layer
}

func newLinear(in, out int, rng *rand.Rand) *linear {
	l := &linear{
		in:  in,
		out: out,
		w:   make([]float64, in*out),
		b:   make([]float64, out),
		dw:  make([]float64, in*out),
		db:  make([]float64, out),
	}
	// Xavier-uniform default; overwritten by the sine scheme when the sine
	// activation is selected.
	limit := math.Sqrt(6 / float64(in+out))
	for i := range l.w {
		l.w[i] = (rng.Float64()*2 - 1) * limit
	}
	return l
}

func (l *linear) weights() *mat.Dense { return mat.NewDense(l.in, l.out, l.w) }

// NewNetwork constructs the field from fixed options. The activation name is
// resolved once here; an unknown name fails with
// activation.ErrUnsupportedActivation.
func NewNetwork(opts Options) (*Network, error) {
	if opts.NumHiddenLayers < 0 {
		return nil, fmt.Errorf("field: num hidden layers must be >= 0, got %d", opts.NumHiddenLayers)
	}
	if opts.HiddenFeatures <= 0 {
		return nil, fmt.Errorf("field: hidden features must be > 0, got %d", opts.HiddenFeatures)
	}

	act, err := activation.Resolve(opts.Activation)
	if err != nil {
		return nil, err
	}

	inputDim := CoordinateDim
	if opts.Encoder != nil {
		inputDim = opts.Encoder.OutputDim()
	}

	featDim := inputDim
	latentDim := 0
	var table *LatentTable
	if opts.Imagefit {
		latentDim = opts.LatentSize
		featDim += latentDim
		table = NewLatentTable(opts.NumVolumes, opts.LatentSize, opts.Seed)
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	n := &Network{
		act:       act,
		encoder:   opts.Encoder,
		latent:    table,
		inputDim:  inputDim,
		featDim:   featDim,
		latentDim: latentDim,
	}

	n.layers = append(n.layers, newLinear(featDim, opts.HiddenFeatures, rng))
	for i := 0; i < opts.NumHiddenLayers; i++ {
		n.layers = append(n.layers, newLinear(opts.HiddenFeatures, opts.HiddenFeatures, rng))
	}
	n.out = newLinear(opts.HiddenFeatures, 1, rng)

	if act.Kind == activation.Sine {
		activation.FirstLayerSineInit(n.layers[0].w, n.layers[0].in, rng)
		for _, l := range n.layers[1:] {
			activation.SineInit(l.w, l.in, rng)
		}
		activation.SineInit(n.out.w, n.out.in, rng)
	}

	return n, nil
}

// Latent returns the per-volume latent code table, or nil outside imagefit
// mode.
func (n *Network) Latent() *LatentTable { return n.latent }

// FeatureDim returns the width of the first layer's input, including the
// latent slice when present.
func (n *Network) FeatureDim() int { return n.featDim }

// LatentDim returns the width of the latent slice of the input features.
func (n *Network) LatentDim() int { return n.latentDim }

// Forward evaluates the field for a batch of coordinates. pts must be
// [n, 3]; latent, when non-nil, must be [n, latentSize] and is concatenated
// in front of the encoded coordinates. The result is [n, 1] with every value
// in (0, 1).
func (n *Network) Forward(pts *mat.Dense, latent *mat.Dense) (*mat.Dense, error) {
	rows, cols := pts.Dims()
	if cols != CoordinateDim {
		return nil, fmt.Errorf("%w: coordinates must have %d columns, got %d", ErrShapeMismatch, CoordinateDim, cols)
	}

	enc := pts
	if n.encoder != nil {
		enc = n.encoder.Encode(pts)
		if er, ec := enc.Dims(); er != rows || ec != n.inputDim {
			return nil, fmt.Errorf("%w: encoder returned [%d, %d], want [%d, %d]", ErrShapeMismatch, er, ec, rows, n.inputDim)
		}
	}

	features := enc
	if n.latentDim > 0 {
		if latent == nil {
			return nil, fmt.Errorf("%w: latent vectors required (imagefit mode)", ErrShapeMismatch)
		}
		lr, lc := latent.Dims()
		if lr != rows || lc != n.latentDim {
			return nil, fmt.Errorf("%w: latent vectors are [%d, %d], want [%d, %d]", ErrShapeMismatch, lr, lc, rows, n.latentDim)
		}
		features = mat.NewDense(rows, n.featDim, nil)
		features.Augment(latent, enc)
	} else if latent != nil {
		return nil, fmt.Errorf("%w: latent vectors supplied but the network has no latent input", ErrShapeMismatch)
	}

	x := features
	for _, l := range n.layers {
		l.input = x
		pre := mat.NewDense(rows, l.out, nil)
		pre.Mul(x, l.weights())
		addBias(pre, l.b)
		l.preact = pre

		out := mat.NewDense(rows, l.out, nil)
		applyElem(out, pre, n.act.Apply)
		l.act = out
		x = out
	}

	n.out.input = x
	pre := mat.NewDense(rows, 1, nil)
	pre.Mul(x, n.out.weights())
	addBias(pre, n.out.b)
	n.outPre = pre

	out := mat.NewDense(rows, 1, nil)
	applyElem(out, pre, activation.SigmoidFn)
	n.outAct = out

	return out, nil
}

// EvalOnly evaluates the field without recording backward caches. Unlike
// Forward it is safe for concurrent use, which the dense grid reconstruction
// relies on; it supports only latent-free evaluation.
func (n *Network) EvalOnly(pts *mat.Dense) (*mat.Dense, error) {
	rows, cols := pts.Dims()
	if cols != CoordinateDim {
		return nil, fmt.Errorf("%w: coordinates must have %d columns, got %d", ErrShapeMismatch, CoordinateDim, cols)
	}
	if n.latentDim > 0 {
		return nil, fmt.Errorf("%w: EvalOnly does not support latent-conditioned networks", ErrShapeMismatch)
	}

	x := pts
	if n.encoder != nil {
		x = n.encoder.Encode(pts)
	}

	for _, l := range n.layers {
		pre := mat.NewDense(rows, l.out, nil)
		pre.Mul(x, l.weights())
		addBias(pre, l.b)
		applyElem(pre, pre, n.act.Apply)
		x = pre
	}

	out := mat.NewDense(rows, 1, nil)
	out.Mul(x, n.out.weights())
	addBias(out, n.out.b)
	applyElem(out, out, activation.SigmoidFn)
	return out, nil
}

// Backward propagates a gradient with respect to the network output through
// the stack, accumulating parameter gradients. gradOut must match the shape
// of the last Forward's output. The returned matrix is the gradient with
// respect to the first layer's input features; its leading LatentDim columns
// belong to the latent code of each row.
func (n *Network) Backward(gradOut *mat.Dense) (*mat.Dense, error) {
	if n.outAct == nil {
		return nil, errors.New("field: Backward called before Forward")
	}
	rows, _ := n.outAct.Dims()
	gr, gc := gradOut.Dims()
	if gr != rows || gc != 1 {
		return nil, fmt.Errorf("%w: output gradient is [%d, %d], want [%d, 1]", ErrShapeMismatch, gr, gc, rows)
	}

	// Through the output sigmoid: dz = grad * y * (1 - y).
	dz := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		y := n.outAct.At(i, 0)
		dz.Set(i, 0, gradOut.At(i, 0)*y*(1-y))
	}

	grad := n.out.backward(dz)

	for i := len(n.layers) - 1; i >= 0; i-- {
		l := n.layers[i]
		// Through the activation: dz = grad * act'(preact).
		dzl := mat.NewDense(rows, l.out, nil)
		for r := 0; r < rows; r++ {
			for c := 0; c < l.out; c++ {
				dzl.Set(r, c, grad.At(r, c)*n.act.Derivative(l.preact.At(r, c), l.act.At(r, c)))
			}
		}
		grad = l.backward(dzl)
	}

	return grad, nil
}

// backward accumulates dw and db from the pre-activation gradient dz and
// returns the gradient with respect to the layer input.
func (l *linear) backward(dz *mat.Dense) *mat.Dense {
	rows, _ := dz.Dims()

	dw := mat.NewDense(l.in, l.out, nil)
	dw.Mul(l.input.T(), dz)
	flat := dw.RawMatrix().Data
	for i := range l.dw {
		l.dw[i] += flat[i]
	}

	for c := 0; c < l.out; c++ {
		sum := 0.0
		for r := 0; r < rows; r++ {
			sum += dz.At(r, c)
		}
		l.db[c] += sum
	}

	gradIn := mat.NewDense(rows, l.in, nil)
	gradIn.Mul(dz, l.weights().T())
	return gradIn
}

// Parameters exposes every learnable block (layer weights and biases, plus
// the latent table when present) for the optimizer.
func (n *Network) Parameters() []Parameter {
	var params []Parameter
	for i, l := range n.layers {
		params = append(params,
			Parameter{Name: fmt.Sprintf("layer%d.weight", i), Data: l.w, Grad: l.dw},
			Parameter{Name: fmt.Sprintf("layer%d.bias", i), Data: l.b, Grad: l.db},
		)
	}
	params = append(params,
		Parameter{Name: "out.weight", Data: n.out.w, Grad: n.out.dw},
		Parameter{Name: "out.bias", Data: n.out.b, Grad: n.out.db},
	)
	if n.latent != nil {
		params = append(params, n.latent.Parameter())
	}
	return params
}

// ZeroGrad clears all accumulated gradients.
func (n *Network) ZeroGrad() {
	for _, l := range n.layers {
		zero(l.dw)
		zero(l.db)
	}
	zero(n.out.dw)
	zero(n.out.db)
	if n.latent != nil {
		n.latent.ZeroGrad()
	}
}

// LayerWeights returns the weight slice of layer i, exposed for the
// initialization tests. Layer len(layers) is the output layer.
func (n *Network) LayerWeights(i int) ([]float64, int) {
	if i == len(n.layers) {
		return n.out.w, n.out.in
	}
	return n.layers[i].w, n.layers[i].in
}

// NumLayers returns the count of linear layers including the output layer.
func (n *Network) NumLayers() int { return len(n.layers) + 1 }

func addBias(m *mat.Dense, b []float64) {
	rows, cols := m.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.Set(r, c, m.At(r, c)+b[c])
		}
	}
}

func applyElem(dst, src *mat.Dense, fn func(float64) float64) {
	rows, cols := src.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst.Set(r, c, fn(src.At(r, c)))
		}
	}
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}
