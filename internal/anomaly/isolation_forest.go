package anomaly

import (
	"math"
	"math/rand"
	"sort"
)

// IsolationForest is a forest-based outlier detector. Points that can be
// isolated with fewer random partitions receive a higher anomaly score.
type IsolationForest struct {
	trees      []*isoNode
	sampleSize int
	threshold  float64
}

type isoNode struct {
	splitFeature int
	splitValue   float64
	left, right  *isoNode
	size         int
	leaf         bool
}

// FitIsolationForest trains a forest on X. The anomaly threshold is set
// at the (1 - contamination) quantile of the training scores so roughly
// a contamination-sized fraction of the training data is flagged.
func FitIsolationForest(X [][]float64, numTrees, sampleSize int, contamination float64, seed int64) *IsolationForest {
	if len(X) == 0 {
		return nil
	}
	if sampleSize > len(X) {
		sampleSize = len(X)
	}
	if sampleSize < 2 {
		sampleSize = len(X)
	}

	rng := rand.New(rand.NewSource(seed))
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize) + 1)))

	forest := &IsolationForest{
		trees:      make([]*isoNode, 0, numTrees),
		sampleSize: sampleSize,
	}

	for i := 0; i < numTrees; i++ {
		sample := sampleRows(X, sampleSize, rng)
		forest.trees = append(forest.trees, buildIsoTree(sample, 0, heightLimit, rng))
	}

	scores := make([]float64, len(X))
	for i, row := range X {
		scores[i] = forest.Score(row)
	}
	sort.Float64s(scores)
	idx := int(float64(len(scores)) * (1 - contamination))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	forest.threshold = scores[idx]

	return forest
}

// Score returns the isolation score for a point in (0, 1); values close
// to 1 indicate outliers.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, x, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(f.sampleSize))
}

// Predict reports whether a point is anomalous and its isolation score
func (f *IsolationForest) Predict(x []float64) (bool, float64) {
	score := f.Score(x)
	return score >= f.threshold && f.threshold > 0, score
}

func buildIsoTree(X [][]float64, depth, heightLimit int, rng *rand.Rand) *isoNode {
	if depth >= heightLimit || len(X) <= 1 {
		return &isoNode{leaf: true, size: len(X)}
	}

	feature, lo, hi, ok := pickSplit(X, rng)
	if !ok {
		return &isoNode{leaf: true, size: len(X)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range X {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{leaf: true, size: len(X)}
	}

	return &isoNode{
		splitFeature: feature,
		splitValue:   split,
		left:         buildIsoTree(left, depth+1, heightLimit, rng),
		right:        buildIsoTree(right, depth+1, heightLimit, rng),
	}
}

// pickSplit chooses a random feature that still varies within X
func pickSplit(X [][]float64, rng *rand.Rand) (feature int, lo, hi float64, ok bool) {
	dims := len(X[0])
	for _, feature := range rng.Perm(dims) {
		lo, hi := X[0][feature], X[0][feature]
		for _, row := range X[1:] {
			if row[feature] < lo {
				lo = row[feature]
			}
			if row[feature] > hi {
				hi = row[feature]
			}
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

func pathLength(node *isoNode, x []float64, depth int) float64 {
	if node.leaf {
		return float64(depth) + avgPathLength(node.size)
	}
	if x[node.splitFeature] < node.splitValue {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// avgPathLength is the expected path length of an unsuccessful BST
// search over n points, the standard normalization term c(n).
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

func sampleRows(X [][]float64, size int, rng *rand.Rand) [][]float64 {
	if size >= len(X) {
		return X
	}
	sample := make([][]float64, size)
	for i, idx := range rng.Perm(len(X))[:size] {
		sample[i] = X[idx]
	}
	return sample
}
