package fluidmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestMemoryStoreSuite(t *testing.T) {
	provider := NewProvider()
	suite.Run(t, &storetest.Suite{
		NewStore: func(desc *fluid.Descriptor[storetest.Record]) (fluid.Store[storetest.Record], error) {
			return NewStore(provider, desc)
		},
		Reset: func() error {
			provider.mu.Lock()
			defer provider.mu.Unlock()
			provider.tables = make(map[string]interface{})
			return nil
		},
		NewTokenStore: func(desc *fluid.Descriptor[storetest.Token]) (fluid.Store[storetest.Token], error) {
			return NewStore(provider, desc)
		},
	})
}

type session struct {
	Token  uuid.UUID
	UserID string
}

type label struct {
	Key   string
	Color string
}

func TestFactoryIsRegistered(t *testing.T) {
	assert.Contains(t, fluid.ProviderFactories(), "memory")

	provider, err := fluid.OpenProvider("memory", fluid.Config{})
	require.NoError(t, err)
	assert.NoError(t, provider.Health())
	assert.Equal(t, fluid.DatabaseTypeMemory, provider.ProviderInfo().DatabaseType)
	assert.True(t, fluid.HasFeature(provider, fluid.FeatureTransactions))
}

func TestClosedProvider(t *testing.T) {
	provider := NewProvider()
	require.NoError(t, provider.Close())

	err := provider.Health()
	assert.True(t, fluid.IsErrorType(err, fluid.ErrorTypeConnection))

	_, err = NewStore(provider, fluid.MustDescriptor[label](fluid.CollectionOptions{IDField: "Key"}))
	assert.Error(t, err)
}

func TestAliasHoldsOneEntityType(t *testing.T) {
	provider := NewProvider()
	_, err := NewStore(provider, fluid.MustDescriptor[label](fluid.CollectionOptions{Alias: "things", IDField: "Key"}))
	require.NoError(t, err)

	_, err = NewStore(provider, fluid.MustDescriptor[session](fluid.CollectionOptions{Alias: "things", IDField: "Token"}))
	assert.True(t, fluid.IsConfiguration(err))
}

func TestGeneratedIDs(t *testing.T) {
	ctx := context.Background()
	provider := NewProvider()

	sessions, err := NewStore(provider, fluid.MustDescriptor[session](fluid.CollectionOptions{IDField: "Token"}))
	require.NoError(t, err)
	s := &session{UserID: "u1"}
	require.NoError(t, sessions.Insert(ctx, s))
	assert.NotEqual(t, uuid.Nil, s.Token)

	labels, err := NewStore(provider, fluid.MustDescriptor[label](fluid.CollectionOptions{IDField: "Key"}))
	require.NoError(t, err)
	l := &label{Color: "red"}
	require.NoError(t, labels.Insert(ctx, l))
	_, err = uuid.Parse(l.Key)
	assert.NoError(t, err)

	dup := &label{Key: l.Key}
	err = labels.Insert(ctx, dup)
	assert.True(t, fluid.IsDuplicate(err))
}

func TestSequenceSkipsExplicitIDs(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(NewProvider(), fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	require.NoError(t, err)

	require.NoError(t, store.Insert(ctx, &storetest.Record{ID: 41, Name: "explicit"}))
	next := &storetest.Record{Name: "generated"}
	require.NoError(t, store.Insert(ctx, next))
	assert.Equal(t, int64(42), next.ID)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(NewProvider(), fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, &storetest.Record{Name: "kept"}))

	boom := errors.New("boom")
	err = store.Transaction(ctx, func(tx fluid.Store[storetest.Record]) error {
		require.NoError(t, tx.Insert(ctx, &storetest.Record{Name: "dropped"}))
		require.NoError(t, tx.UpdateFields(ctx, int64(1), map[string]interface{}{"Name": "renamed"}))

		// the unit of work sees its own writes
		n, err := tx.Count(ctx, fluid.QuerySpec{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := store.Find(ctx, fluid.QuerySpec{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0].Name)

	// generated ids are not handed out twice, even after a rollback
	next := &storetest.Record{Name: "next"}
	require.NoError(t, store.Insert(ctx, next))
	assert.Equal(t, int64(3), next.ID)
}

func TestHookReadsOwnCollection(t *testing.T) {
	ctx := context.Background()
	desc := fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions())
	store, err := NewStore(NewProvider(), desc)
	require.NoError(t, err)
	registry := fluid.NewRegistry()
	repo := fluid.MustRegister(registry, desc, store)

	// reject a second record with the same name
	registry.Hooks().OnSaving(fluid.SavingFor(func(ctx context.Context, before, after *storetest.Record) (*storetest.Record, bool, error) {
		existing, err := repo.List(ctx)
		if err != nil {
			return nil, false, err
		}
		for _, r := range existing {
			if r.Name == after.Name {
				return after, true, nil
			}
		}
		return after, false, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := repo.Save(ctx, &storetest.Record{Name: "unique"})
		if err == nil {
			_, err = repo.Save(ctx, &storetest.Record{Name: "unique"})
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("save blocked on a hook reading the same collection")
	}

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	desc := fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions())
	store, err := NewStore(NewProvider(), desc)
	require.NoError(t, err)
	repo := fluid.MustRegister(fluid.NewRegistry(), desc, store)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Save(ctx, &storetest.Record{Name: fmt.Sprintf("r%02d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)
}

func TestTransactionHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store, err := NewStore(NewProvider(), fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	require.NoError(t, err)

	called := false
	err = store.Transaction(ctx, func(tx fluid.Store[storetest.Record]) error {
		called = true
		return nil
	})
	assert.True(t, fluid.IsErrorType(err, fluid.ErrorTypeTimeout))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestStoredRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(NewProvider(), fluid.MustDescriptor[storetest.Record](storetest.HardDeleteOptions()))
	require.NoError(t, err)

	r := &storetest.Record{Name: "original"}
	require.NoError(t, store.Insert(ctx, r))
	r.Name = "mutated"

	got, err := store.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Name)
	got.Name = "mutated again"

	again, err := store.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Name)

	_, err = store.FindByID(ctx, int64(77))
	assert.True(t, fluid.IsNotFound(err))
	assert.True(t, fluid.IsNotFound(store.Delete(ctx, int64(77))))
	assert.True(t, fluid.IsNotFound(store.Update(ctx, &storetest.Record{ID: 77})))
}
