package crossproduct

import (
	"math"
	"testing"
	"time"

	"github.com/fuelcast/go-demandcast/preprocess"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func elasticRecords(n int) []SalesRecord {
	var records []SalesRecord
	for i := 0; i < n; i++ {
		day := start.AddDate(0, 0, i)
		pa := 3 + 0.5*math.Sin(float64(i))
		pb := 3.2 + 0.4*math.Cos(1.3*float64(i))
		qa := 100 * math.Pow(pa, -1.5) * math.Pow(pb, 0.8)
		qb := 80 * math.Pow(pb, -2) * math.Pow(pa, 0.5)

		// split the diesel volume over two sales at the same price
		records = append(records,
			SalesRecord{Timestamp: day.Add(8 * time.Hour), Product: "diesel", Quantity: qa / 2, Price: decimal.NewFromFloat(pa)},
			SalesRecord{Timestamp: day.Add(17 * time.Hour), Product: "diesel", Quantity: qa / 2, Price: decimal.NewFromFloat(pa)},
			SalesRecord{Timestamp: day.Add(9 * time.Hour), Product: "premium", Quantity: qb, Price: decimal.NewFromFloat(pb)},
		)
	}
	return records
}

func TestAnalyzeElasticities(t *testing.T) {
	report, err := Analyze(elasticRecords(40), []string{"premium", "diesel", "diesel"}, nil)
	require.Nil(t, err)
	assert.Equal(t, 40, report.Periods)

	assert.InDelta(t, 0.8, report.CrossElasticities["diesel"]["premium"], 1e-3)
	assert.InDelta(t, 0.5, report.CrossElasticities["premium"]["diesel"], 1e-3)
	assert.Less(t, report.OwnElasticities["diesel"], 0.0)
	assert.Less(t, report.OwnElasticities["premium"], 0.0)
	assert.NotContains(t, report.CrossElasticities["diesel"], "diesel")
}

func TestAnalyzeSubstitution(t *testing.T) {
	var records []SalesRecord
	price := decimal.RequireFromString("1.859")
	for i := 0; i < 20; i++ {
		day := start.AddDate(0, 0, i)
		qa, qb := 10.0, 5.0
		if i%2 == 1 {
			qa, qb = 8, 7
		}
		records = append(records,
			SalesRecord{Timestamp: day, Product: "a", Quantity: qa, Price: price},
			SalesRecord{Timestamp: day, Product: "b", Quantity: qb, Price: price},
			SalesRecord{Timestamp: day, Product: "c", Quantity: 3, Price: price},
		)
	}

	report, err := Analyze(records, []string{"a", "b", "c"}, nil)
	require.Nil(t, err)
	require.Len(t, report.SubstitutionPatterns, 2)

	first, second := report.SubstitutionPatterns[0], report.SubstitutionPatterns[1]
	assert.Equal(t, "b", first.Antecedent)
	assert.Equal(t, "a", first.Consequent)
	assert.InDelta(t, 9.0/19, first.Support, 1e-9)
	assert.InDelta(t, 1.0, first.Confidence, 1e-9)
	assert.InDelta(t, 19.0/9, first.Lift, 1e-9)

	assert.Equal(t, "a", second.Antecedent)
	assert.Equal(t, "b", second.Consequent)
	assert.InDelta(t, 10.0/19, second.Support, 1e-9)
	assert.InDelta(t, 1.9, second.Lift, 1e-9)
	assert.Contains(t, second.String(), "a down => b up")

	for _, j := range []string{"a", "b"} {
		assert.InDelta(t, 0, report.CrossElasticities["c"][j], 1e-3)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	testData := map[string]struct {
		records  []SalesRecord
		products []string
		opt      *Options
		err      error
	}{
		"single product": {
			records:  elasticRecords(20),
			products: []string{"diesel", "diesel"},
			err:      ErrTooFewProducts,
		},
		"too few periods": {
			records:  elasticRecords(5),
			products: []string{"diesel", "premium"},
			err:      preprocess.ErrInsufficientData,
		},
		"product never sold": {
			records:  elasticRecords(20),
			products: []string{"diesel", "lpg"},
			err:      preprocess.ErrInsufficientData,
		},
		"non positive price": {
			records: []SalesRecord{
				{Timestamp: start, Product: "diesel", Quantity: 1, Price: decimal.Zero},
			},
			products: []string{"diesel", "premium"},
			err:      ErrInvalidRecord,
		},
		"negative quantity": {
			records: []SalesRecord{
				{Timestamp: start, Product: "diesel", Quantity: -1, Price: decimal.NewFromInt(2)},
			},
			products: []string{"diesel", "premium"},
			err:      ErrInvalidRecord,
		},
		"invalid support": {
			records:  elasticRecords(20),
			products: []string{"diesel", "premium"},
			opt:      &Options{MinSupport: 2},
			err:      ErrInvalidOptions,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			_, err := Analyze(td.records, td.products, td.opt)
			assert.ErrorIs(t, err, td.err)
		})
	}
}
