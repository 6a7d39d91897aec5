package forecasting

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// ForestConfig holds random forest hyperparameters.
type ForestConfig struct {
	Trees           int   `msgpack:"trees"`
	MaxDepth        int   `msgpack:"max_depth"`
	MinSamplesSplit int   `msgpack:"min_samples_split"`
	MinSamplesLeaf  int   `msgpack:"min_samples_leaf"`
	Bootstrap       bool  `msgpack:"bootstrap"`
	Seed            int64 `msgpack:"seed"`
}

// DefaultForestConfig returns 100 bootstrapped trees of depth 10 seeded with 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
	}
}

// treeNode is a flat tree node. Feature < 0 marks a leaf.
type treeNode struct {
	Feature   int     `msgpack:"f"`
	Threshold float64 `msgpack:"t"`
	Left      int     `msgpack:"l"`
	Right     int     `msgpack:"r"`
	Value     float64 `msgpack:"v"`
}

type regressionTree struct {
	Nodes []treeNode `msgpack:"nodes"`
}

func (t *regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// RandomForest is a bagged ensemble of variance-reduction regression trees.
// Each tree draws from its own seeded source, so fits are reproducible regardless of
// scheduling.
type RandomForest struct {
	Config ForestConfig     `msgpack:"config"`
	Trees  []regressionTree `msgpack:"trees"`
}

// NewRandomForest creates an unfitted forest.
func NewRandomForest(cfg ForestConfig) *RandomForest {
	return &RandomForest{Config: cfg}
}

// Fit trains the trees in parallel.
func (f *RandomForest) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("%w: forest needs matching non-empty inputs (rows=%d, targets=%d)", ErrNumerical, len(x), len(y))
	}
	if f.Config.Trees < 1 {
		return fmt.Errorf("forest needs at least one tree, got %d", f.Config.Trees)
	}

	trees := make([]regressionTree, f.Config.Trees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for t := range trees {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(f.Config.Seed + int64(t)))
			sample := make([]int, len(y))
			for i := range sample {
				if f.Config.Bootstrap {
					sample[i] = rng.Intn(len(y))
				} else {
					sample[i] = i
				}
			}
			b := &treeBuilder{x: x, y: y, cfg: f.Config}
			b.grow(sample, 0)
			trees[t] = regressionTree{Nodes: b.nodes}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	f.Trees = trees
	return nil
}

// Predict returns the mean of the tree predictions for one row.
func (f *RandomForest) Predict(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees))
}

type treeBuilder struct {
	x     [][]float64
	y     []float64
	cfg   ForestConfig
	nodes []treeNode
}

func (b *treeBuilder) targets(idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = b.y[j]
	}
	return out
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Feature: -1, Value: stat.Mean(b.targets(idx), nil)})

	if depth >= b.cfg.MaxDepth || len(idx) < b.cfg.MinSamplesSplit || len(idx) < 2*b.cfg.MinSamplesLeaf {
		return id
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	if len(left) == 0 || len(right) == 0 {
		return id
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)

	b.nodes[id].Feature = feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// bestSplit maximizes sumL²/nL + sumR²/nR, which minimizes the children's squared error.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	n := len(idx)
	var total float64
	for _, i := range idx {
		total += b.y[i]
	}
	parent := total * total / float64(n)
	best := parent + 1e-9*(1+parent)
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	features := len(b.x[idx[0]])
	minLeaf := b.cfg.MinSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}

	for j := 0; j < features; j++ {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.x[sorted[a]][j] < b.x[sorted[c]][j]
		})

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += b.y[sorted[k]]
			nl := k + 1
			nr := n - nl
			lo, hi := b.x[sorted[k]][j], b.x[sorted[k+1]][j]
			if lo == hi || nl < minLeaf || nr < minLeaf {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr)
			if score > best {
				best = score
				bestFeature = j
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
				found = true
			}
		}
	}

	return bestFeature, bestThreshold, found
}
