package usecase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisRepo "github.com/iho/splitledger/internal/adapter/repository/redis"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

func TestGetSplit_CacheMissWaitsForUncommittedWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := redisRepo.NewCache(client)

	env := newTestEnv(t, decimal.Zero)
	ctx := context.Background()
	ledger := env.createProtocol(t)
	split := env.createSplit(t, ledger.ID, 100)
	splits := usecase.NewSplitUseCase(env.txm, env.ledgerRepo, env.splitRepo, nil, nil, nil, cache, nil)

	// A writer holds the split with a change it has not committed yet.
	tx, err := env.txm.Begin(ctx)
	require.NoError(t, err)
	locked, err := env.splitRepo.GetByIDForUpdate(ctx, tx, ledger.ID, split.ID)
	require.NoError(t, err)
	locked.PendingBalance = decimal.NewFromInt(500)
	require.NoError(t, env.splitRepo.Update(ctx, tx, locked))

	type read struct {
		split *domain.Split
		err   error
	}
	done := make(chan read, 1)
	go func() {
		s, err := splits.GetSplit(ctx, ledger.ID, split.ID)
		done <- read{s, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("cache miss returned before the writer committed: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, tx.Commit(ctx))

	var r read
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cache miss never completed")
	}
	require.NoError(t, r.err)
	assert.True(t, r.split.PendingBalance.Equal(decimal.NewFromInt(500)))

	data, err := cache.Get(ctx, fmt.Sprintf("split:%s:%d", ledger.ID, split.ID))
	require.NoError(t, err)
	var cached domain.Split
	require.NoError(t, json.Unmarshal(data, &cached))
	assert.True(t, cached.PendingBalance.Equal(decimal.NewFromInt(500)), "cached %s", cached.PendingBalance)
}
