package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fuelcast/go-demandcast/evaluate"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(key string) Snapshot {
	trained := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return Snapshot{
		Key:     key,
		SavedAt: trained.Add(time.Minute),
		Period:  7,
		Members: []Member{
			{
				Model: models.Model{
					Name:      models.NameAutoregressive,
					TrainedAt: trained,
					Accuracy:  evaluate.AccuracyMetrics{MAPE: 0.04, RMSE: 3, MAE: 2, EvaluatedAt: trained},
					Params:    []byte(`{"order":1,"intercept":0.5,"coef":[0.7]}`),
				},
				Weight: 0.6,
			},
			{
				Model:  models.Model{Name: models.NameGBT, TrainedAt: trained, Params: []byte(`{}`)},
				Weight: 0.4,
			},
		},
	}
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "st-1/diesel/daily")
	assert.ErrorIs(t, err, ErrNotFound)

	expected := snapshot("st-1/diesel/daily")
	require.Nil(t, s.Save(ctx, expected))

	res, err := s.Load(ctx, "st-1/diesel/daily")
	require.Nil(t, err)
	assert.Equal(t, expected.Key, res.Key)
	assert.Equal(t, expected.Period, res.Period)
	assert.True(t, expected.SavedAt.Equal(res.SavedAt))
	require.Len(t, res.Members, 2)
	assert.Equal(t, 0.6, res.Members[0].Weight)
	assert.Equal(t, 0.04, res.Members[0].Model.Accuracy.MAPE)
	assert.JSONEq(t, string(expected.Members[0].Model.Params), string(res.Members[0].Model.Params))

	updated := snapshot("st-1/diesel/daily")
	updated.Members[0].Weight = 0.9
	require.Nil(t, s.Save(ctx, updated))
	res, err = s.Load(ctx, "st-1/diesel/daily")
	require.Nil(t, err)
	assert.Equal(t, 0.9, res.Members[0].Weight)

	require.Nil(t, s.Save(ctx, snapshot("network/diesel/daily")))
	require.Nil(t, s.Delete(ctx, "st-1/diesel/daily"))
	_, err = s.Load(ctx, "st-1/diesel/daily")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Load(ctx, "network/diesel/daily")
	assert.Nil(t, err)

	assert.ErrorIs(t, s.Save(ctx, Snapshot{}), ErrInvalidKey)
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.Nil(t, err)
	testStore(t, s)

	_, err = s.Load(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "", time.Hour)
	testStore(t, s)

	assert.True(t, srv.Exists(DefaultRedisPrefix+"network/diesel/daily"))
	srv.FastForward(2 * time.Hour)
	_, err := s.Load(context.Background(), "network/diesel/daily")
	assert.ErrorIs(t, err, ErrNotFound)
}
