package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tpvsync/internal/cache"
	"github.com/dropDatabas3/tpvsync/internal/events"
	"github.com/dropDatabas3/tpvsync/internal/queue"
	"github.com/dropDatabas3/tpvsync/internal/remote"
	"github.com/dropDatabas3/tpvsync/internal/repository"
	"github.com/dropDatabas3/tpvsync/internal/schema"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
	"github.com/dropDatabas3/tpvsync/internal/store/memory"
)

// fakeRemote scriptea la autoridad remota para el adapter.
type fakeRemote struct {
	reachable bool
	fetchRows []map[string]any
	fetchErr  error

	// "ok" | "reject" | "network"
	writeMode string

	creates int
	updates int
	deletes int
}

func (f *fakeRemote) FetchAll(ctx context.Context, kind string) ([]map[string]any, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchRows, nil
}

func (f *fakeRemote) writeResult() (*remote.Result, error) {
	switch f.writeMode {
	case "reject":
		return &remote.Result{Success: false, Error: "rejected by business rule"}, nil
	case "network":
		return nil, errors.New("dial tcp: connection refused")
	default:
		return &remote.Result{Success: true}, nil
	}
}

func (f *fakeRemote) CreateEntity(ctx context.Context, kind string, payload map[string]any) (*remote.Result, error) {
	f.creates++
	return f.writeResult()
}

func (f *fakeRemote) UpdateEntity(ctx context.Context, kind, id string, payload map[string]any) (*remote.Result, error) {
	f.updates++
	return f.writeResult()
}

func (f *fakeRemote) DeleteEntity(ctx context.Context, kind, id string) (*remote.Result, error) {
	f.deletes++
	return f.writeResult()
}

func (f *fakeRemote) Reachable(ctx context.Context) bool { return f.reachable }

func productsDef() repository.Definition {
	return repository.Definition{
		Kind:    "products",
		Indexes: map[string]string{"barcode": "barcode"},
	}
}

func newRepo(t *testing.T, def repository.Definition, remote *fakeRemote) (*repository.Repository, *memory.Store, *events.Bus) {
	t.Helper()
	st := memory.New()
	bus := events.NewBus()
	hot := cache.NewMemory(time.Minute)
	r := repository.New(def, st.Entities(), hot, remote, nil, bus)
	return r, st, bus
}

func seedLocal(t *testing.T, st *memory.Store, kind string, rows ...map[string]any) {
	t.Helper()
	for _, row := range rows {
		id, _ := row["id"].(string)
		err := st.Entities().Put(context.Background(), core.CacheEntry{
			Kind: kind, ID: id, Data: row, UpdatedAt: time.Now().UTC(),
		}, nil)
		require.NoError(t, err)
	}
}

func TestGetAll_WriteThroughRefresh(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, fetchRows: []map[string]any{
		{"id": "p-1", "name": "Yerba", "barcode": "779"},
		{"id": "p-2", "name": "Azúcar", "barcode": "780"},
	}}
	repo, st, _ := newRepo(t, productsDef(), rm)

	rows, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// El cache local quedó refrescado, con índices.
	n, err := st.Entities().Count(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	byCode, err := st.Entities().ByIndex(ctx, "products", "barcode", "779")
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "p-1", byCode[0].ID)
}

func TestGetAll_UnreachableServesLocalCache(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: false}
	repo, st, _ := newRepo(t, productsDef(), rm)
	seedLocal(t, st, "products", map[string]any{"id": "p-1", "name": "Yerba"})

	rows, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p-1", rows[0]["id"])
}

func TestGetAll_RemoteErrorFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, fetchErr: errors.New("status 500")}
	repo, st, _ := newRepo(t, productsDef(), rm)
	seedLocal(t, st, "products", map[string]any{"id": "p-1", "name": "Yerba"})

	rows, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestGetAll_ZeroRowsDesyncKeepsCacheAndEmits(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, fetchRows: nil} // remoto dice "vacío"
	repo, st, bus := newRepo(t, productsDef(), rm)
	seedLocal(t, st, "products",
		map[string]any{"id": "p-1", "name": "Yerba"},
		map[string]any{"id": "p-2", "name": "Azúcar"})

	evs, cancel := bus.Subscribe(4, events.TopicDesync)
	defer cancel()

	rows, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "el cero remoto no pisa los datos locales")

	n, _ := st.Entities().Count(ctx, "products")
	assert.Equal(t, 2, n)

	ev := <-evs
	assert.Equal(t, events.TopicDesync, ev.Topic)
	assert.Equal(t, "products", ev.Fields["kind"])
	assert.Equal(t, 2, ev.Fields["local_count"])
}

func TestGetAll_RemoteEmptyAndLocalEmptyIsNotDesync(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, fetchRows: nil}
	repo, _, bus := newRepo(t, productsDef(), rm)

	evs, cancel := bus.Subscribe(4, events.TopicDesync)
	defer cancel()

	rows, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
	select {
	case ev := <-evs:
		t.Fatalf("no debería haber evento desync, llegó %v", ev)
	default:
	}
}

func TestGetByID_CacheFirstThenScan(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, fetchRows: []map[string]any{
		{"id": "p-7", "name": "Fideos"},
	}}
	repo, st, _ := newRepo(t, productsDef(), rm)
	seedLocal(t, st, "products", map[string]any{"id": "p-1", "name": "Yerba"})

	// Hit en el cache persistido.
	got, err := repo.GetByID(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Yerba", got["name"])

	// Miss local: cae al scan remoto.
	got, err = repo.GetByID(ctx, "p-7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Fideos", got["name"])

	// Inexistente en todos lados.
	got, err = repo.GetByID(ctx, "p-404")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetByIndex_SecondaryLookup(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, fetchRows: []map[string]any{
		{"id": "p-1", "name": "Yerba", "barcode": "779"},
	}}
	repo, _, _ := newRepo(t, productsDef(), rm)

	_, err := repo.GetAll(ctx) // write-through puebla el índice
	require.NoError(t, err)

	rows, err := repo.GetByIndex(ctx, "barcode", "779")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p-1", rows[0]["id"])

	_, err = repo.GetByIndex(ctx, "sku", "x")
	assert.Error(t, err, "índice no declarado")
}

func TestCreate_RejectionRollsBackOptimisticCopy(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, writeMode: "reject"}
	repo, st, _ := newRepo(t, productsDef(), rm)

	got, err := repo.Create(ctx, map[string]any{"name": "Pan", "barcode": "781"})
	require.Error(t, err)
	var rej *repository.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Nil(t, got)

	// Rollback total: ni entidad ni índice quedan.
	n, _ := st.Entities().Count(ctx, "products")
	assert.Equal(t, 0, n)
	byCode, _ := st.Entities().ByIndex(ctx, "products", "barcode", "781")
	assert.Empty(t, byCode)
}

func TestCreate_NetworkExceptionKeepsOptimisticCopy(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, writeMode: "network"}
	repo, st, _ := newRepo(t, productsDef(), rm)

	got, err := repo.Create(ctx, map[string]any{"name": "Pan"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotEmpty(t, got["id"], "id optimista asignado")

	n, _ := st.Entities().Count(ctx, "products")
	assert.Equal(t, 1, n)
}

func TestUpdate_RejectionRestoresPreMergeValue(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, writeMode: "reject"}
	repo, st, _ := newRepo(t, productsDef(), rm)
	seedLocal(t, st, "products", map[string]any{"id": "p-1", "name": "Yerba", "price": 100.0})

	got, err := repo.Update(ctx, "p-1", map[string]any{"price": 120.0})
	require.Error(t, err)
	assert.Nil(t, got)

	entry, err := st.Entities().Get(ctx, "products", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, entry.Data["price"], "el valor pre-merge vuelve tras el rechazo")
}

func TestUpdate_NetworkExceptionKeepsMerge(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, writeMode: "network"}
	repo, st, _ := newRepo(t, productsDef(), rm)
	seedLocal(t, st, "products", map[string]any{"id": "p-1", "name": "Yerba", "price": 100.0})

	got, err := repo.Update(ctx, "p-1", map[string]any{"price": 120.0})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 120.0, got["price"])
	assert.Equal(t, "Yerba", got["name"], "merge parcial conserva el resto")

	entry, err := st.Entities().Get(ctx, "products", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 120.0, entry.Data["price"])
}

func TestUpdate_MissingEntityReturnsNil(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: false}
	repo, _, _ := newRepo(t, productsDef(), rm)

	got, err := repo.Update(ctx, "p-404", map[string]any{"price": 1.0})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelete_LocallyAuthoritative(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRemote{reachable: true, writeMode: "network"}
	repo, st, _ := newRepo(t, productsDef(), rm)
	seedLocal(t, st, "products", map[string]any{"id": "p-1", "name": "Yerba"})

	deleted, err := repo.Delete(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	// El fallo remoto NO restaura la entrada.
	n, _ := st.Entities().Count(ctx, "products")
	assert.Equal(t, 0, n)
}

func TestCreate_QueuedReplayGoesThroughGatewayAndQueue(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	bus := events.NewBus()
	gw := schema.NewGateway(nil)
	q := queue.New(st.Queue(), gw)
	rm := &fakeRemote{reachable: false}

	def := repository.Definition{
		Kind:     "sales",
		Write:    repository.QueuedReplay,
		Category: core.CategoryCreateSale,
	}
	repo := repository.New(def, st.Entities(), cache.NewMemory(time.Minute), rm, q, bus)

	sale := map[string]any{
		"clientId":       "c-1",
		"warehouse":      "w-1",
		"items":          []any{map[string]any{"product_id": "p-1", "quantity": 1}},
		"total":          99.0,
		"payment_method": "card",
	}
	got, err := repo.Create(ctx, sale)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, true, got["pending_sync"])

	// En la cola quedó el payload normalizado, no se tocó la red.
	pending, err := q.DrainInOrder(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].Payload, "client_id")
	assert.Equal(t, 0, rm.creates)

	// La copia optimista local existe bajo el id de la mutación.
	entry, err := st.Entities().Get(ctx, "sales", pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, true, entry.Data["pending_sync"])
}

func TestCreate_QueuedReplayValidationError(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	gw := schema.NewGateway(nil)
	q := queue.New(st.Queue(), gw)

	def := repository.Definition{
		Kind:     "sales",
		Write:    repository.QueuedReplay,
		Category: core.CategoryCreateSale,
	}
	repo := repository.New(def, st.Entities(), cache.NewMemory(time.Minute),
		&fakeRemote{}, q, events.NewBus())

	got, err := repo.Create(ctx, map[string]any{"total": 10.0})
	require.Error(t, err)
	var verr *repository.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Missing)
	assert.Nil(t, got)

	n, _ := q.Size(ctx)
	assert.Equal(t, 0, n)
}

func TestGetAll_RefreshPreservesQueuedPendingSale(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	gw := schema.NewGateway(nil)
	q := queue.New(st.Queue(), gw)
	rm := &fakeRemote{reachable: false}

	def := repository.Definition{
		Kind:     "sales",
		Write:    repository.QueuedReplay,
		Category: core.CategoryCreateSale,
	}
	repo := repository.New(def, st.Entities(), cache.NewMemory(time.Minute), rm, q, events.NewBus())

	// Venta encolada offline: copia optimista con pending_sync.
	created, err := repo.Create(ctx, map[string]any{
		"clientId":       "c-1",
		"warehouse":      "w-1",
		"items":          []any{map[string]any{"product_id": "p-1", "quantity": 1}},
		"total":          99.0,
		"payment_method": "card",
	})
	require.NoError(t, err)
	pendingID, _ := created["id"].(string)
	require.NotEmpty(t, pendingID)

	// Vuelve la conectividad y el remoto trae filas que no incluyen la
	// venta pendiente (el procesador todavía no la entregó).
	rm.reachable = true
	rm.fetchRows = []map[string]any{
		{"id": "s-remota", "total": 50.0},
	}

	rows, err := repo.GetAll(ctx)
	require.NoError(t, err)

	// El refresh no la pisó: sigue en el cache y en el resultado.
	entry, err := st.Entities().Get(ctx, "sales", pendingID)
	require.NoError(t, err)
	assert.Equal(t, true, entry.Data["pending_sync"])

	var ids []string
	for _, row := range rows {
		ids = append(ids, row["id"].(string))
	}
	assert.ElementsMatch(t, []string{"s-remota", pendingID}, ids)

	// Entregada la mutación (ya no está en la cola), el remoto vuelve a
	// ser la verdad y el próximo refresh la reemplaza.
	require.NoError(t, q.Remove(ctx, pendingID))
	_, err = repo.GetAll(ctx)
	require.NoError(t, err)
	_, err = st.Entities().Get(ctx, "sales", pendingID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
