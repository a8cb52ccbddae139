// Package crossproduct estimates cross price elasticities and substitution patterns between
// products sold at the same station.
package crossproduct

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/fuelcast/go-demandcast/linearmodel"
	"github.com/fuelcast/go-demandcast/preprocess"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/shopspring/decimal"
)

var (
	ErrTooFewProducts = errors.New("at least two distinct products are required")
	ErrInvalidRecord  = errors.New("invalid sales record")
	ErrInvalidOptions = errors.New("invalid cross product options")
)

// SalesRecord is one sale, or an aggregate of sales, of a product
type SalesRecord struct {
	Timestamp time.Time       `json:"timestamp" db:"sold_at"`
	Product   string          `json:"product" db:"product_type"`
	Quantity  float64         `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"unit_price"`
}

type Options struct {
	// Granularity is the period sales are aggregated to
	Granularity timedataset.Granularity `json:"granularity" mapstructure:"granularity"`

	// MinPeriods is the minimum number of periods in which every product sold
	MinPeriods int `json:"min_periods" mapstructure:"min_periods"`

	MinSupport    float64 `json:"min_support" mapstructure:"min_support"`
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Granularity:   timedataset.Daily,
		MinPeriods:    8,
		MinSupport:    0.1,
		MinConfidence: 0.5,
	}
}

func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	res := *o
	def := NewDefaultOptions()
	if res.Granularity == "" {
		res.Granularity = def.Granularity
	}
	if err := res.Granularity.Validate(); err != nil {
		return nil, err
	}
	if res.MinPeriods < 3 {
		res.MinPeriods = def.MinPeriods
	}
	if res.MinSupport < 0 || res.MinSupport > 1 || res.MinConfidence < 0 || res.MinConfidence > 1 {
		return nil, fmt.Errorf("support %.3f confidence %.3f, %w", res.MinSupport, res.MinConfidence, ErrInvalidOptions)
	}
	return &res, nil
}

// Pattern is the association rule "demand for Antecedent fell, so demand for Consequent rose"
// over consecutive periods
type Pattern struct {
	Antecedent string  `json:"antecedent"`
	Consequent string  `json:"consequent"`
	Support    float64 `json:"support"`
	Confidence float64 `json:"confidence"`
	Lift       float64 `json:"lift"`
}

func (p Pattern) String() string {
	return fmt.Sprintf("%s down => %s up (support %.2f, confidence %.2f, lift %.2f)",
		p.Antecedent, p.Consequent, p.Support, p.Confidence, p.Lift)
}

type Report struct {
	// CrossElasticities[i][j] is the elasticity of demand for i with respect to the price of j.
	// Positive values indicate substitutes.
	CrossElasticities map[string]map[string]float64 `json:"cross_elasticities"`
	OwnElasticities   map[string]float64            `json:"own_elasticities"`

	SubstitutionPatterns []Pattern `json:"substitution_patterns"`
	Periods              int       `json:"periods"`
}

// panel holds per period quantities and average prices of every product in periods where all
// of them sold
type panel struct {
	t        []time.Time
	quantity map[string][]float64
	price    map[string][]float64
}

type bucket struct {
	quantity decimal.Decimal
	revenue  decimal.Decimal
}

func aggregate(records []SalesRecord, products []string, g timedataset.Granularity) (*panel, error) {
	wanted := make(map[string]bool, len(products))
	for _, p := range products {
		wanted[p] = true
	}

	byPeriod := make(map[time.Time]map[string]*bucket)
	for _, r := range records {
		if !wanted[r.Product] {
			continue
		}
		if r.Quantity < 0 || math.IsNaN(r.Quantity) || !r.Price.IsPositive() {
			return nil, fmt.Errorf("%s at %s, %w", r.Product, r.Timestamp.Format(time.RFC3339), ErrInvalidRecord)
		}
		period := g.Truncate(r.Timestamp)
		if byPeriod[period] == nil {
			byPeriod[period] = make(map[string]*bucket, len(products))
		}
		b := byPeriod[period][r.Product]
		if b == nil {
			b = &bucket{}
			byPeriod[period][r.Product] = b
		}
		q := decimal.NewFromFloat(r.Quantity)
		b.quantity = b.quantity.Add(q)
		b.revenue = b.revenue.Add(q.Mul(r.Price))
	}

	periods := make([]time.Time, 0, len(byPeriod))
	for period := range byPeriod {
		periods = append(periods, period)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })

	p := &panel{
		quantity: make(map[string][]float64, len(products)),
		price:    make(map[string][]float64, len(products)),
	}
next:
	for _, period := range periods {
		buckets := byPeriod[period]
		for _, prod := range products {
			if b := buckets[prod]; b == nil || !b.quantity.IsPositive() {
				continue next
			}
		}
		p.t = append(p.t, period)
		for _, prod := range products {
			b := buckets[prod]
			p.quantity[prod] = append(p.quantity[prod], b.quantity.InexactFloat64())
			// volume weighted average price
			p.price[prod] = append(p.price[prod], b.revenue.Div(b.quantity).InexactFloat64())
		}
	}
	return p, nil
}

// Analyze estimates pairwise cross price elasticities with the log-log regression
// ln Qi = a + bii ln Pi + bij ln Pj and mines substitution patterns from period to period
// co-movement of demand.
func Analyze(records []SalesRecord, products []string, opt *Options) (*Report, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	products = slices.Compact(slices.Sorted(slices.Values(products)))
	if len(products) < 2 {
		return nil, ErrTooFewProducts
	}

	p, err := aggregate(records, products, opt.Granularity)
	if err != nil {
		return nil, err
	}
	if len(p.t) < opt.MinPeriods {
		return nil, fmt.Errorf("%d periods with sales of every product, need %d, %w", len(p.t), opt.MinPeriods, preprocess.ErrInsufficientData)
	}

	report := &Report{
		CrossElasticities: make(map[string]map[string]float64, len(products)),
		OwnElasticities:   make(map[string]float64, len(products)),
		Periods:           len(p.t),
	}
	logQ := make(map[string][]float64, len(products))
	logP := make(map[string][]float64, len(products))
	for _, prod := range products {
		logQ[prod] = logs(p.quantity[prod])
		logP[prod] = logs(p.price[prod])
	}

	for _, i := range products {
		own, err := fitElasticities(logQ[i], logP[i])
		if err != nil {
			return nil, fmt.Errorf("unable to estimate own elasticity of %s, %w", i, err)
		}
		report.OwnElasticities[i] = own[0]

		report.CrossElasticities[i] = make(map[string]float64, len(products)-1)
		for _, j := range products {
			if i == j {
				continue
			}
			coef, err := fitElasticities(logQ[i], logP[i], logP[j])
			if err != nil {
				return nil, fmt.Errorf("unable to estimate elasticity of %s to %s, %w", i, j, err)
			}
			report.CrossElasticities[i][j] = coef[1]
		}
	}

	report.SubstitutionPatterns = substitution(p, products, opt.MinSupport, opt.MinConfidence)
	return report, nil
}

func logs(v []float64) []float64 {
	res := make([]float64, len(v))
	for i, x := range v {
		res[i] = math.Log(x)
	}
	return res
}

func fitElasticities(y []float64, cols ...[]float64) ([]float64, error) {
	rows := make([][]float64, len(y))
	for i := range rows {
		rows[i] = make([]float64, len(cols))
		for j, col := range cols {
			rows[i][j] = col[i]
		}
	}
	// the ridge keeps constant or collinear price columns solvable
	model, err := linearmodel.FitRows(rows, y, &linearmodel.OLSOptions{FitIntercept: true, Ridge: 1e-8})
	if err != nil {
		return nil, err
	}
	return model.Coef(), nil
}

type movement int

const (
	flat movement = iota
	down
	up
)

func movements(q []float64) []movement {
	res := make([]movement, 0, len(q)-1)
	for i := 1; i < len(q); i++ {
		tol := 1e-9 * math.Max(1, math.Abs(q[i-1]))
		switch d := q[i] - q[i-1]; {
		case d > tol:
			res = append(res, up)
		case d < -tol:
			res = append(res, down)
		default:
			res = append(res, flat)
		}
	}
	return res
}

// substitution mines the rules "A down => B up" with at least minSupport support,
// minConfidence confidence and a lift above 1, strongest lift first
func substitution(p *panel, products []string, minSupport, minConfidence float64) []Pattern {
	moves := make(map[string][]movement, len(products))
	for _, prod := range products {
		moves[prod] = movements(p.quantity[prod])
	}
	n := float64(len(p.t) - 1)

	var res []Pattern
	for _, a := range products {
		for _, b := range products {
			if a == b {
				continue
			}
			var aDown, bUp, both float64
			for k, ma := range moves[a] {
				mb := moves[b][k]
				if ma == down {
					aDown++
				}
				if mb == up {
					bUp++
				}
				if ma == down && mb == up {
					both++
				}
			}
			if aDown == 0 || bUp == 0 {
				continue
			}
			pat := Pattern{
				Antecedent: a,
				Consequent: b,
				Support:    both / n,
				Confidence: both / aDown,
			}
			pat.Lift = pat.Confidence / (bUp / n)
			if pat.Support >= minSupport && pat.Confidence >= minConfidence && pat.Lift > 1 {
				res = append(res, pat)
			}
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Lift != res[j].Lift {
			return res[i].Lift > res[j].Lift
		}
		return res[i].Support > res[j].Support
	})
	return res
}
