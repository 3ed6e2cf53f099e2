package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotStore_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSnapshotStore(db, 2*time.Hour)
	payload := []byte(`{"station":"Haifa"}`)

	mock.ExpectSet("sealevel:forecast:Haifa", payload, 2*time.Hour).SetVal("OK")

	require.NoError(t, store.Publish(context.Background(), "Haifa", payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStore_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSnapshotStore(db, time.Hour)
	payload := []byte(`{}`)

	mock.ExpectSet("sealevel:forecast:Acre", payload, time.Hour).SetErr(errors.New("connection refused"))

	err := store.Publish(context.Background(), "Acre", payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Acre")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStore_Latest(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSnapshotStore(db, time.Hour)
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("sealevel:forecast:Yafo").SetVal(`{"station":"Yafo"}`)

		val, ok, err := store.Latest(ctx, "Yafo")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"station":"Yafo"}`, string(val))
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("sealevel:forecast:Eilat").RedisNil()

		val, ok, err := store.Latest(ctx, "Eilat")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, val)
	})

	t.Run("error", func(t *testing.T) {
		mock.ExpectGet("sealevel:forecast:Acre").SetErr(redis.TxFailedErr)

		_, _, err := store.Latest(ctx, "Acre")
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStore_CheckReadiness(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewSnapshotStore(db, time.Hour)

	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, store.CheckReadiness(context.Background()))

	mock.ExpectPing().SetErr(errors.New("down"))
	assert.Error(t, store.CheckReadiness(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "sealevel:forecast:Ashkelon", Key("Ashkelon"))
}
