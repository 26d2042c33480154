package model

import "math"

// Network dimensions. The snapshot layout depends on these; changing them
// invalidates every existing snapshot.
const (
	InputSize  = 32
	HiddenSize = 64
	OutputSize = 16
)

func relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// softmax normalizes values in place, subtracting the max before
// exponentiation to keep the sums finite.
func softmax(values []float32) {
	maxVal := values[0]
	for _, v := range values[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float32
	for i, v := range values {
		values[i] = float32(math.Exp(float64(v - maxVal)))
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
}

// forward runs the two dense layers. Weights are stored as int8 and dequantized
// on the fly by dividing by 127 and multiplying by the layer scale; biases are
// scaled by their own layer's scale. The hidden layer is ReLU, the output layer
// is a softmax over all sixteen slots. Caller holds m.mu.
func (m *Model) forward(input *[InputSize]float32) [OutputSize]float32 {
	var hidden [HiddenSize]float32
	for h := 0; h < HiddenSize; h++ {
		sum := float32(m.st.BiasHidden[h]) * m.st.ScaleHidden
		for i := 0; i < InputSize; i++ {
			sum += input[i] * (float32(m.st.WeightsInputHidden[i][h]) / 127.0) * m.st.ScaleInput
		}
		hidden[h] = relu(sum)
	}

	var out [OutputSize]float32
	for o := 0; o < OutputSize; o++ {
		sum := float32(m.st.BiasOutput[o]) * m.st.ScaleOutput
		for h := 0; h < HiddenSize; h++ {
			sum += hidden[h] * (float32(m.st.WeightsHiddenOutput[h][o]) / 127.0) * m.st.ScaleHidden
		}
		out[o] = sum
	}

	softmax(out[:])
	return out
}
