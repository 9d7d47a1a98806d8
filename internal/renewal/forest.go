package renewal

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/kalambet/crmai/internal/features"
)

// forest is a bagged ensemble of Gini decision trees over normalized
// feature vectors. It is immutable once fitted.
type forest struct {
	trees []tree
}

type tree struct {
	nodes []node
}

type node struct {
	leaf      bool
	prob      float64 // positive-class fraction, leaves only
	feature   int
	threshold float64
	left      int
	right     int
}

// fitForest trains n trees on bootstrap samples of (xs, ys).
// xs must be non-empty and len(xs) == len(ys).
func fitForest(xs []features.Vector, ys []bool, n int, rng *rand.Rand) *forest {
	f := &forest{trees: make([]tree, n)}
	mtry := max(1, int(math.Sqrt(features.Size)))
	for t := range f.trees {
		sample := make([]int, len(xs))
		for i := range sample {
			sample[i] = rng.IntN(len(xs))
		}
		b := builder{xs: xs, ys: ys, mtry: mtry, rng: rng}
		b.grow(sample)
		f.trees[t] = tree{nodes: b.nodes}
	}
	return f
}

// probability returns the mean positive-class fraction of the leaves v
// lands in, always within [0,1].
func (f *forest) probability(v features.Vector) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.trees {
		sum += t.predict(v)
	}
	p := sum / float64(len(f.trees))
	return math.Min(1, math.Max(0, p))
}

func (t tree) predict(v features.Vector) float64 {
	i := 0
	for {
		n := t.nodes[i]
		if n.leaf {
			return n.prob
		}
		if v[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

type builder struct {
	xs    []features.Vector
	ys    []bool
	mtry  int
	rng   *rand.Rand
	nodes []node
}

// grow appends the subtree for idx and returns its node index.
func (b *builder) grow(idx []int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, node{})

	pos := b.positives(idx)
	if len(idx) < 2 || pos == 0 || pos == len(idx) {
		b.nodes[self] = b.leaf(idx, pos)
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		b.nodes[self] = b.leaf(idx, pos)
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.xs[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	if len(left) == 0 || len(right) == 0 {
		b.nodes[self] = b.leaf(idx, pos)
		return self
	}

	l := b.grow(left)
	r := b.grow(right)
	b.nodes[self] = node{feature: feature, threshold: threshold, left: l, right: r}
	return self
}

func (b *builder) leaf(idx []int, pos int) node {
	return node{leaf: true, prob: float64(pos) / float64(len(idx))}
}

func (b *builder) positives(idx []int) int {
	n := 0
	for _, i := range idx {
		if b.ys[i] {
			n++
		}
	}
	return n
}

// bestSplit evaluates mtry random features, moving on to the remaining ones
// only while no usable split has been found. A split is usable when it
// strictly lowers the weighted Gini impurity.
func (b *builder) bestSplit(idx []int, pos int) (int, float64, bool) {
	parent := gini(pos, len(idx))
	bestScore := parent
	bestFeature, bestThreshold := -1, 0.0

	order := b.rng.Perm(features.Size)
	for tried, f := range order {
		if tried >= b.mtry && bestFeature >= 0 {
			break
		}
		if score, threshold, ok := b.splitOn(idx, f); ok && score < bestScore-1e-12 {
			bestScore, bestFeature, bestThreshold = score, f, threshold
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// splitOn finds the threshold on feature f minimizing weighted Gini impurity.
func (b *builder) splitOn(idx []int, f int) (float64, float64, bool) {
	sorted := make([]int, len(idx))
	copy(sorted, idx)
	sort.Slice(sorted, func(i, j int) bool { return b.xs[sorted[i]][f] < b.xs[sorted[j]][f] })

	total := len(sorted)
	totalPos := b.positives(sorted)
	best, bestThreshold, found := math.Inf(1), 0.0, false

	leftPos := 0
	for i := 0; i < total-1; i++ {
		if b.ys[sorted[i]] {
			leftPos++
		}
		lo, hi := b.xs[sorted[i]][f], b.xs[sorted[i+1]][f]
		if lo == hi {
			continue
		}
		nl, nr := i+1, total-i-1
		score := (float64(nl)*gini(leftPos, nl) + float64(nr)*gini(totalPos-leftPos, nr)) / float64(total)
		if score < best {
			mid := lo + (hi-lo)/2
			if mid >= hi {
				mid = lo
			}
			best, bestThreshold, found = score, mid, true
		}
	}
	return best, bestThreshold, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
