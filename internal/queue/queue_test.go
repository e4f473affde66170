package queue_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tpvsync/internal/queue"
	"github.com/dropDatabas3/tpvsync/internal/schema"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
	"github.com/dropDatabas3/tpvsync/internal/store/memory"
)

func validClient(name string) map[string]any {
	return map[string]any{"name": name}
}

func newQueue(t *testing.T, opts ...queue.Option) (*queue.Queue, *memory.Store) {
	t.Helper()
	st := memory.New()
	q := queue.New(st.Queue(), schema.NewGateway(nil), opts...)
	return q, st
}

func TestSubmit_ValidPayloadEnqueues(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	res, err := q.Submit(ctx, core.CategoryCreateClient, validClient("ACME"), false)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.NotNil(t, res.Mutation)
	assert.NotEmpty(t, res.Mutation.ID)
	assert.Equal(t, core.CategoryCreateClient, res.Mutation.Category)

	n, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmit_GatewayRejectionKeepsQueueEmpty(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	res, err := q.Submit(ctx, core.CategoryCreateSale, map[string]any{"total": 10.0}, false)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Nil(t, res.Mutation)
	assert.False(t, res.Validation.OK)
	assert.NotEmpty(t, res.Validation.MissingRequired)

	n, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "un payload rechazado nunca toca la cola")
}

func TestEnqueue_CapacityBound(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t) // capacidad default 50

	base := time.Now().UTC()
	for i := 0; i < queue.DefaultCapacity; i++ {
		ok, err := q.Enqueue(ctx, core.Mutation{
			ID:         fmt.Sprintf("m-%02d", i),
			Category:   core.CategoryCreateClient,
			Payload:    validClient(fmt.Sprintf("c%d", i)),
			EnqueuedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
		require.True(t, ok, "mutación %d debería entrar", i)
	}

	// La 51 se rechaza sin error y sin tocar las 50 existentes.
	ok, err := q.Enqueue(ctx, core.Mutation{
		ID:         "m-overflow",
		Category:   core.CategoryCreateClient,
		Payload:    validClient("overflow"),
		EnqueuedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := q.DrainInOrder(ctx)
	require.NoError(t, err)
	require.Len(t, pending, queue.DefaultCapacity)
	assert.Equal(t, "m-00", pending[0].ID)
	assert.Equal(t, "m-49", pending[len(pending)-1].ID)
}

func TestDrainInOrder_FIFO(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t)

	base := time.Now().UTC()
	ids := []string{"primero", "segundo", "tercero"}
	// Insertar fuera de orden: el orden lo da enqueued_at, no el insert.
	for _, i := range []int{2, 0, 1} {
		ok, err := q.Enqueue(ctx, core.Mutation{
			ID:         ids[i],
			Category:   core.CategoryCreateClient,
			Payload:    validClient(ids[i]),
			EnqueuedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	pending, err := q.DrainInOrder(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, m := range pending {
		assert.Equal(t, ids[i], m.ID)
	}
}

func TestMoveToDeadLetter_AtomicTransition(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := queue.New(st.Queue(), schema.NewGateway(nil))

	res, err := q.Submit(ctx, core.CategoryCreateClient, validClient("ACME"), false)
	require.NoError(t, err)
	id := res.Mutation.ID

	require.NoError(t, q.MoveToDeadLetter(ctx, id, core.ReasonRejected, "duplicate tax id"))

	n, _ := q.Size(ctx)
	assert.Equal(t, 0, n)

	dead, err := st.DeadLetters().List(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].Mutation.ID)
	assert.Equal(t, core.ReasonRejected, dead[0].Reason)
	assert.Equal(t, "duplicate tax id", dead[0].Error)
}

func TestMoveToCorrupted_KeepsDriftDetail(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := queue.New(st.Queue(), schema.NewGateway(nil))

	res, err := q.Submit(ctx, core.CategoryCreateClient, validClient("ACME"), false)
	require.NoError(t, err)
	id := res.Mutation.ID

	require.NoError(t, q.MoveToCorrupted(ctx, id, "schema drift since enqueue",
		[]string{"old_field"}, []string{"tax_id"}))

	corrupted, err := st.Corrupted().List(ctx)
	require.NoError(t, err)
	require.Len(t, corrupted, 1)
	assert.Equal(t, []string{"old_field"}, corrupted[0].ObsoleteFields)
	assert.Equal(t, []string{"tax_id"}, corrupted[0].MissingRequiredFields)
}

func TestRequeue_ResetsRetryCount(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := queue.New(st.Queue(), schema.NewGateway(nil))

	res, err := q.Submit(ctx, core.CategoryCreateClient, validClient("ACME"), false)
	require.NoError(t, err)
	id := res.Mutation.ID

	for i := 1; i <= 4; i++ {
		n, err := q.IncrementRetry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	require.NoError(t, q.MoveToDeadLetter(ctx, id, core.ReasonRetriesExhausted, "network flaky"))

	require.NoError(t, st.DeadLetters().Requeue(ctx, id))

	pending, err := q.DrainInOrder(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)
}

func TestSubmit_SimulatedModeMarksMutations(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := queue.New(st.Queue(), schema.NewGateway(nil), queue.WithSimulated(true))

	res, err := q.Submit(ctx, core.CategoryCreateClient, validClient("ACME"), false)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.True(t, res.Mutation.Simulated)

	pending, err := q.DrainInOrder(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Simulated)
}

func TestHas(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	q := queue.New(st.Queue(), schema.NewGateway(nil))

	res, err := q.Submit(ctx, core.CategoryCreateClient, validClient("ACME"), false)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	ok, err := q.Has(ctx, res.Mutation.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, q.Remove(ctx, res.Mutation.ID))
	ok, err = q.Has(ctx, res.Mutation.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
