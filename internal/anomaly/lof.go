package anomaly

import (
	"math"
	"sort"
)

// lofScores computes the Local Outlier Factor for every point in X.
// Values around 1 indicate inliers; substantially larger values indicate
// points whose local density is much lower than their neighbors'.
func lofScores(X [][]float64, k int) []float64 {
	n := len(X)
	if k >= n {
		k = n - 1
	}
	if k < 1 {
		return make([]float64, n)
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			dist[i][j] = euclidean(X[i], X[j])
		}
	}

	kDist := make([]float64, n)
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		order := make([]int, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				order = append(order, j)
			}
		}
		sort.Slice(order, func(a, b int) bool {
			return dist[i][order[a]] < dist[i][order[b]]
		})
		kDist[i] = dist[i][order[k-1]]
		// All points within the k-distance belong to the neighborhood
		for _, j := range order {
			if dist[i][j] <= kDist[i] {
				neighbors[i] = append(neighbors[i], j)
			} else {
				break
			}
		}
	}

	lrd := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for _, j := range neighbors[i] {
			sum += math.Max(kDist[j], dist[i][j])
		}
		if sum == 0 {
			lrd[i] = math.Inf(1)
		} else {
			lrd[i] = float64(len(neighbors[i])) / sum
		}
	}

	lof := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsInf(lrd[i], 1) {
			lof[i] = 1
			continue
		}
		sum := 0.0
		for _, j := range neighbors[i] {
			if math.IsInf(lrd[j], 1) {
				sum += 1e9
			} else {
				sum += lrd[j]
			}
		}
		lof[i] = sum / (float64(len(neighbors[i])) * lrd[i])
	}

	return lof
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}
