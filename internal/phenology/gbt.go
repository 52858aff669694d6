package phenology

import (
	"fmt"
	"sort"

	"vinewatch/internal/types"
)

// treeNode is one node of a regression tree, stored flat so the model
// serializes to a stable JSON artifact. Internal nodes route on
// x[Feature] < Threshold; leaves carry Value.
type treeNode struct {
	Leaf      bool    `json:"leaf"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Model is a gradient-boosted ensemble of shallow regression trees fit with
// squared-error loss. Prediction is Bias plus the shrunken sum of tree
// outputs.
type Model struct {
	Bias         float64          `json:"bias"`
	LearningRate float64          `json:"learning_rate"`
	NumFeatures  int              `json:"num_features"`
	Trees        []regressionTree `json:"trees"`
}

// TrainParams controls the boosting run.
type TrainParams struct {
	NumTrees     int
	MaxDepth     int
	LearningRate float64
	MinLeaf      int
}

// DefaultTrainParams mirrors a small conservative booster: 50 depth-3 trees
// with 0.1 shrinkage.
func DefaultTrainParams() TrainParams {
	return TrainParams{NumTrees: 50, MaxDepth: 3, LearningRate: 0.1, MinLeaf: 2}
}

// Train fits a boosted ensemble on the given samples. Every feature vector
// must have the same length. Returns a typed error when no samples are
// provided.
func Train(features [][]float64, labels []float64, params TrainParams) (*Model, error) {
	if len(features) == 0 {
		return nil, types.NewAppError(types.ErrCodeModelNoTrainingData, "no training samples", nil)
	}
	if len(features) != len(labels) {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("feature/label length mismatch: %d vs %d", len(features), len(labels)), nil)
	}
	numFeatures := len(features[0])
	for _, f := range features {
		if len(f) != numFeatures {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "ragged feature matrix", nil)
		}
	}

	var bias float64
	for _, y := range labels {
		bias += y
	}
	bias /= float64(len(labels))

	m := &Model{
		Bias:         bias,
		LearningRate: params.LearningRate,
		NumFeatures:  numFeatures,
	}

	// Residual boosting: each tree fits the remaining error of the
	// ensemble so far.
	residuals := make([]float64, len(labels))
	preds := make([]float64, len(labels))
	for i := range preds {
		preds[i] = bias
	}

	indices := make([]int, len(labels))
	for i := range indices {
		indices[i] = i
	}

	for t := 0; t < params.NumTrees; t++ {
		for i := range residuals {
			residuals[i] = labels[i] - preds[i]
		}

		tree := regressionTree{}
		buildNode(&tree, features, residuals, indices, params.MaxDepth, params.MinLeaf)
		m.Trees = append(m.Trees, tree)

		for i := range preds {
			preds[i] += params.LearningRate * tree.predict(features[i])
		}
	}
	return m, nil
}

// Predict returns the ensemble output for one feature vector.
func (m *Model) Predict(x []float64) float64 {
	out := m.Bias
	for i := range m.Trees {
		out += m.LearningRate * m.Trees[i].predict(x)
	}
	return out
}

// buildNode grows one subtree over the given sample indices and appends its
// nodes to the tree, returning the root's index.
func buildNode(tree *regressionTree, features [][]float64, targets []float64, indices []int, depth, minLeaf int) int {
	mean := meanOf(targets, indices)

	if depth == 0 || len(indices) < 2*minLeaf {
		return appendLeaf(tree, mean)
	}

	feature, threshold, ok := bestSplit(features, targets, indices, minLeaf)
	if !ok {
		return appendLeaf(tree, mean)
	}

	var left, right []int
	for _, i := range indices {
		if features[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	// Reserve this node's slot before recursing so child indices land
	// after it.
	idx := len(tree.Nodes)
	tree.Nodes = append(tree.Nodes, treeNode{})

	leftIdx := buildNode(tree, features, targets, left, depth-1, minLeaf)
	rightIdx := buildNode(tree, features, targets, right, depth-1, minLeaf)

	tree.Nodes[idx] = treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      leftIdx,
		Right:     rightIdx,
	}
	return idx
}

func appendLeaf(tree *regressionTree, value float64) int {
	tree.Nodes = append(tree.Nodes, treeNode{Leaf: true, Value: value})
	return len(tree.Nodes) - 1
}

func meanOf(targets []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var sum float64
	for _, i := range indices {
		sum += targets[i]
	}
	return sum / float64(len(indices))
}

// bestSplit scans every feature for the threshold that most reduces the sum
// of squared errors. ok is false when no split separates the samples.
func bestSplit(features [][]float64, targets []float64, indices []int, minLeaf int) (feature int, threshold float64, ok bool) {
	bestScore := sse(targets, indices)
	numFeatures := len(features[indices[0]])

	for f := 0; f < numFeatures; f++ {
		values := make([]float64, 0, len(indices))
		for _, i := range indices {
			values = append(values, features[i][f])
		}
		sort.Float64s(values)

		for v := 1; v < len(values); v++ {
			if values[v] == values[v-1] {
				continue
			}
			thr := (values[v] + values[v-1]) / 2

			var left, right []int
			for _, i := range indices {
				if features[i][f] < thr {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			if len(left) < minLeaf || len(right) < minLeaf {
				continue
			}

			score := sse(targets, left) + sse(targets, right)
			if score < bestScore {
				bestScore = score
				feature = f
				threshold = thr
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func sse(targets []float64, indices []int) float64 {
	mean := meanOf(targets, indices)
	var sum float64
	for _, i := range indices {
		d := targets[i] - mean
		sum += d * d
	}
	return sum
}
