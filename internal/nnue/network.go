package nnue

// Network holds the NNUE weights. It is immutable once loaded and shared by
// every evaluator and accumulator that reads it.
type Network struct {
	// Input layer: HalfKPSize -> L1Size (per perspective)
	InputWeights [HalfKPSize][L1Size]float32
	InputBias    [L1Size]float32

	// Hidden layer 1: L1Size*2 (mover first) -> L2Size
	L1Weights [L2Size][L1Size * 2]float32
	L1Bias    [L2Size]float32

	// Hidden layer 2: L2Size -> L3Size
	L2Weights [L3Size][L2Size]float32
	L2Bias    [L3Size]float32

	// Output layer: L3Size -> 1
	OutputWeights [L3Size]float32
	OutputBias    float32
}

// NewNetwork creates a network with zero weights (must load weights or init random).
func NewNetwork() *Network {
	return &Network{}
}

// Score runs the forward pass over the mover's and the opponent's accumulator
// vectors. Larger is better for the mover.
func (n *Network) Score(mover, other *[L1Size]float32) float64 {
	var in [L1Size * 2]float64
	for i := 0; i < L1Size; i++ {
		in[i] = relu(float64(mover[i]))
		in[L1Size+i] = relu(float64(other[i]))
	}

	var h1 [L2Size]float64
	for i := 0; i < L2Size; i++ {
		sum := float64(n.L1Bias[i])
		row := &n.L1Weights[i]
		for j := range in {
			sum += float64(row[j]) * in[j]
		}
		h1[i] = relu(sum)
	}

	var h2 [L3Size]float64
	for i := 0; i < L3Size; i++ {
		sum := float64(n.L2Bias[i])
		row := &n.L2Weights[i]
		for j := range h1 {
			sum += float64(row[j]) * h1[j]
		}
		h2[i] = relu(sum)
	}

	out := float64(n.OutputBias)
	for i := range h2 {
		out += float64(n.OutputWeights[i]) * h2[i]
	}
	return out
}

// InitRandom initializes weights with small random values (for testing only).
func (n *Network) InitRandom(seed int64) {
	// Use a simple LCG for reproducibility
	state := uint64(seed)
	next := func(scale float32) float32 {
		state = state*6364136223846793005 + 1442695040888963407
		// Top 24 bits mapped onto [-1, 1)
		u := float32(state>>40)/float32(1<<23) - 1
		return u * scale
	}

	for i := range n.InputWeights {
		for j := range n.InputWeights[i] {
			n.InputWeights[i][j] = next(0.05)
		}
	}
	for i := range n.InputBias {
		n.InputBias[i] = next(0.1)
	}

	for i := range n.L1Weights {
		for j := range n.L1Weights[i] {
			n.L1Weights[i][j] = next(0.1)
		}
		n.L1Bias[i] = next(0.1)
	}

	for i := range n.L2Weights {
		for j := range n.L2Weights[i] {
			n.L2Weights[i][j] = next(0.3)
		}
		n.L2Bias[i] = next(0.1)
	}

	for i := range n.OutputWeights {
		n.OutputWeights[i] = next(1)
	}
	n.OutputBias = 0
}
