package models

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"github.com/fuelcast/go-demandcast/stats"
	"gonum.org/v1/gonum/stat"
)

type GBTOptions struct {
	Rounds            int     `json:"rounds" mapstructure:"rounds"`
	IncrementalRounds int     `json:"incremental_rounds" mapstructure:"incremental_rounds"`
	MaxDepth          int     `json:"max_depth" mapstructure:"max_depth"`
	MinLeaf           int     `json:"min_leaf" mapstructure:"min_leaf"`
	LearningRate      float64 `json:"learning_rate" mapstructure:"learning_rate"`

	// Bins caps the candidate split thresholds per feature
	Bins int `json:"bins" mapstructure:"bins"`

	Anomaly *IsolationOptions `json:"anomaly" mapstructure:"anomaly"`
}

func NewDefaultGBTOptions() *GBTOptions {
	return &GBTOptions{
		Rounds:            100,
		IncrementalRounds: 20,
		MaxDepth:          3,
		MinLeaf:           5,
		LearningRate:      0.1,
		Bins:              32,
		Anomaly:           NewDefaultIsolationOptions(),
	}
}

type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type gbtParams struct {
	Base         float64          `json:"base"`
	LearningRate float64          `json:"learning_rate"`
	Labels       []string         `json:"labels"`
	Trees        []regressionTree `json:"trees"`
}

func (p *gbtParams) predict(x []float64) float64 {
	v := p.Base
	for _, t := range p.Trees {
		v += p.LearningRate * t.predict(x)
	}
	return v
}

// GradientBoosted fits boosted regression trees on the engineered feature matrix and
// forecasts recursively. It also scores anomalies with an isolation forest.
type GradientBoosted struct {
	state
	opt    *GBTOptions
	seed   uint64
	params gbtParams
}

func NewGBT(opt *GBTOptions, seed uint64, retrainEvery time.Duration) (*GradientBoosted, error) {
	if opt == nil {
		opt = NewDefaultGBTOptions()
	}
	if opt.Rounds < 0 || opt.IncrementalRounds < 0 || opt.MaxDepth <= 0 || opt.MinLeaf <= 0 ||
		opt.LearningRate <= 0 || opt.Bins < 2 {
		return nil, ErrInvalidParameters
	}
	res := *opt
	if res.Anomaly == nil {
		res.Anomaly = NewDefaultIsolationOptions()
	}
	return &GradientBoosted{
		state: state{retrainEvery: retrainEvery},
		opt:   &res,
		seed:  seed,
	}, nil
}

func (g *GradientBoosted) Name() string {
	return NameGBT
}

// trainingRows skips the leading rows whose lags reach before the history when enough rows
// remain
func (g *GradientBoosted) trainingRows(in *Input) (int, error) {
	if in.Matrix == nil || in.Matrix.Rows() == 0 {
		return 0, fmt.Errorf("no feature matrix, %w", ErrNoTrainingData)
	}
	if in.Matrix.Rows() != len(in.Y) {
		return 0, fmt.Errorf("%d feature rows for %d values, %w", in.Matrix.Rows(), len(in.Y), ErrNoTrainingData)
	}
	start := 1
	if in.Engineer != nil {
		if lb := in.Engineer.Options().MaxLookback(); len(in.Y)-lb >= 4*g.opt.MinLeaf {
			start = lb
		}
	}
	if len(in.Y)-start < 2*g.opt.MinLeaf {
		return 0, fmt.Errorf("%d usable rows, %w", len(in.Y)-start, ErrNoTrainingData)
	}
	return start, nil
}

func (g *GradientBoosted) Train(ctx context.Context, in *Input) error {
	if err := in.validateTrain(); err != nil {
		return err
	}
	start, err := g.trainingRows(in)
	if err != nil {
		return err
	}
	x := in.Matrix.RowSlices()[start:]
	y := in.Y[start:]

	p := gbtParams{
		Base:         stat.Mean(y, nil),
		LearningRate: g.opt.LearningRate,
		Labels:       in.Matrix.Labels.Strings(),
	}
	if err := g.boost(ctx, &p, x, y, g.opt.Rounds); err != nil {
		return err
	}
	g.params = p
	g.markTrained(g.fitted(in.Matrix.RowSlices(), start))
	return nil
}

// IncrementalTrain adds boosting rounds fit to the current residuals of the latest history
func (g *GradientBoosted) IncrementalTrain(ctx context.Context, in *Input) error {
	if !g.ready || in == nil || in.Matrix == nil || !slices.Equal(in.Matrix.Labels.Strings(), g.params.Labels) {
		return g.Train(ctx, in)
	}
	if err := in.validateTrain(); err != nil {
		return err
	}
	start, err := g.trainingRows(in)
	if err != nil {
		return err
	}
	rows := in.Matrix.RowSlices()

	p := g.params
	p.Trees = slices.Clone(g.params.Trees)
	if err := g.boost(ctx, &p, rows[start:], in.Y[start:], g.opt.IncrementalRounds); err != nil {
		return err
	}
	g.params = p
	g.markTrained(g.fitted(rows, start))
	return nil
}

func (g *GradientBoosted) boost(ctx context.Context, p *gbtParams, x [][]float64, y []float64, rounds int) error {
	thresholds := candidateThresholds(x, g.opt.Bins)
	bins := binRows(x, thresholds)

	pred := make([]float64, len(y))
	for i, row := range x {
		pred[i] = p.predict(row)
	}
	residual := make([]float64, len(y))
	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}

	for r := 0; r < rounds; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range y {
			residual[i] = y[i] - pred[i]
		}
		b := treeBuilder{
			thresholds: thresholds,
			bins:       bins,
			residual:   residual,
			maxDepth:   g.opt.MaxDepth,
			minLeaf:    g.opt.MinLeaf,
		}
		b.grow(idx, 0)
		tree := regressionTree{Nodes: b.nodes}
		p.Trees = append(p.Trees, tree)
		for i, row := range x {
			pred[i] += p.LearningRate * tree.predict(row)
		}
	}
	return nil
}

// candidateThresholds returns up to bins split points per feature. Few distinct values use the
// midpoints between them, otherwise evenly spaced quantiles.
func candidateThresholds(x [][]float64, bins int) [][]float64 {
	if len(x) == 0 {
		return nil
	}
	nFeat := len(x[0])
	res := make([][]float64, nFeat)
	col := make([]float64, len(x))
	for f := 0; f < nFeat; f++ {
		for i, row := range x {
			col[i] = row[f]
		}
		uniq := slices.Compact(slices.Sorted(slices.Values(col)))
		if len(uniq) <= 1 {
			continue
		}
		var thr []float64
		if len(uniq) <= bins {
			for i := 0; i+1 < len(uniq); i++ {
				thr = append(thr, (uniq[i]+uniq[i+1])/2)
			}
		} else {
			for b := 1; b < bins; b++ {
				q, _ := stats.Quantile(uniq, float64(b)/float64(bins))
				thr = append(thr, q)
			}
			thr = slices.Compact(thr)
		}
		res[f] = thr
	}
	return res
}

// binRows maps every value to the index of the first threshold it does not exceed
func binRows(x [][]float64, thresholds [][]float64) [][]int {
	res := make([][]int, len(thresholds))
	for f, thr := range thresholds {
		res[f] = make([]int, len(x))
		for i, row := range x {
			res[f][i] = sort.SearchFloat64s(thr, row[f])
		}
	}
	return res
}

type treeBuilder struct {
	thresholds [][]float64
	bins       [][]int
	residual   []float64
	maxDepth   int
	minLeaf    int
	nodes      []treeNode
}

// grow appends the subtree for the rows in idx and returns its node index
func (b *treeBuilder) grow(idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.residual[i]
	}
	node := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Leaf: true, Value: sum / float64(len(idx))})
	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		return node
	}

	bestGain, bestFeat, bestThr := 1e-12, -1, 0
	total := sum * sum / float64(len(idx))
	for f, thr := range b.thresholds {
		if len(thr) == 0 {
			continue
		}
		cnt := make([]int, len(thr)+1)
		sums := make([]float64, len(thr)+1)
		for _, i := range idx {
			bin := b.bins[f][i]
			cnt[bin]++
			sums[bin] += b.residual[i]
		}
		var nLeft int
		var sLeft float64
		for k := 0; k < len(thr); k++ {
			nLeft += cnt[k]
			sLeft += sums[k]
			nRight := len(idx) - nLeft
			if nLeft < b.minLeaf || nRight < b.minLeaf {
				continue
			}
			sRight := sum - sLeft
			gain := sLeft*sLeft/float64(nLeft) + sRight*sRight/float64(nRight) - total
			if gain > bestGain {
				bestGain, bestFeat, bestThr = gain, f, k
			}
		}
	}
	if bestFeat < 0 {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if b.bins[bestFeat][i] <= bestThr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[node] = treeNode{
		Feature:   bestFeat,
		Threshold: b.thresholds[bestFeat][bestThr],
		Left:      l,
		Right:     r,
	}
	return node
}

func (g *GradientBoosted) fitted(rows [][]float64, start int) []float64 {
	res := nanSlice(len(rows))
	for i := start; i < len(rows); i++ {
		res[i] = g.params.predict(rows[i])
	}
	return res
}

func (g *GradientBoosted) Predict(ctx context.Context, in *Input, horizon int) ([]float64, error) {
	if !g.ready {
		return nil, ErrModelNotReady
	}
	if err := in.validatePredict(horizon); err != nil {
		return nil, err
	}
	if in.Engineer == nil {
		return nil, ErrMissingEngineer
	}
	if !slices.Equal(in.Engineer.Labels().Strings(), g.params.Labels) {
		return nil, fmt.Errorf("feature labels changed since training, %w", ErrModelMismatch)
	}

	history := make([]float64, len(in.Y), len(in.Y)+horizon)
	copy(history, in.Y)
	res := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := in.Engineer.Row(history, in.Future[h], in.External)
		if err != nil {
			return nil, fmt.Errorf("unable to derive features for step %d, %w", h+1, err)
		}
		v := clip(g.params.predict(row), maxNormalized)
		res[h] = v
		history = append(history, v)
	}
	return res, nil
}

// DetectAnomalies scores the deviation of every observation from its centered rolling median
// with an isolation forest and returns the observations scoring above threshold
func (g *GradientBoosted) DetectAnomalies(t []time.Time, y []float64, threshold float64) ([]AnomalyRecord, error) {
	if len(t) != len(y) {
		return nil, fmt.Errorf("%d timestamps for %d values, %w", len(t), len(y), ErrNoTrainingData)
	}

	dev := Deviations(y, g.opt.Anomaly.Window)
	var x [][]float64
	var at []int
	for i, d := range dev {
		if math.IsNaN(d) {
			continue
		}
		x = append(x, []float64{d})
		at = append(at, i)
	}
	if len(x) == 0 {
		return nil, ErrNoTrainingData
	}

	rng := rand.New(rand.NewPCG(g.seed, uint64(len(x))))
	forest := NewIsolationForest(x, g.opt.Anomaly.Trees, g.opt.Anomaly.SampleSize, rng)

	var res []AnomalyRecord
	for j, row := range x {
		score := forest.Score(row)
		if score <= threshold {
			continue
		}
		i := at[j]
		res = append(res, AnomalyRecord{
			Timestamp:     t[i],
			Value:         y[i],
			AnomalyScore:  score,
			ThresholdUsed: threshold,
			Severity:      SeverityFlagged,
		})
	}
	return res, nil
}

// Deviations returns each value minus the median of the centered window around it, NaN where
// the value is missing
func Deviations(y []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	half := window / 2
	res := make([]float64, len(y))
	for i, v := range y {
		if math.IsNaN(v) {
			res[i] = math.NaN()
			continue
		}
		lo, hi := max(i-half, 0), min(i+half+1, len(y))
		med, err := stats.Median(y[lo:hi])
		if err != nil {
			res[i] = math.NaN()
			continue
		}
		res[i] = v - med
	}
	return res
}

func (g *GradientBoosted) Model() (Model, error) {
	return g.snapshot(g.Name(), g.params)
}

func (g *GradientBoosted) Load(m Model) error {
	var params gbtParams
	valid := func() bool {
		for _, t := range params.Trees {
			if len(t.Nodes) == 0 {
				return false
			}
		}
		return true
	}
	if err := g.restore(g.Name(), m, &params, valid); err != nil {
		return err
	}
	g.params = params
	return nil
}

type Severity string

const (
	SeverityFlagged  Severity = "flagged"
	SeverityCritical Severity = "critical"
)

// AnomalyRecord is an observation judged unusual
type AnomalyRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Value         float64   `json:"value"`
	AnomalyScore  float64   `json:"anomaly_score"`
	ThresholdUsed float64   `json:"threshold_used"`
	Severity      Severity  `json:"severity"`
}

// AnomalyScorer is implemented by members able to score observations for anomalies
type AnomalyScorer interface {
	DetectAnomalies(t []time.Time, y []float64, threshold float64) ([]AnomalyRecord, error)
}
