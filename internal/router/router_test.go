package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aplabs/labreserve/internal/config"
	"github.com/aplabs/labreserve/internal/database"
	"github.com/aplabs/labreserve/internal/handler"
	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/metrics"
	"github.com/aplabs/labreserve/internal/middleware"
	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
	"github.com/aplabs/labreserve/internal/service"
	"github.com/aplabs/labreserve/internal/utils"
)

const secret = "router-test-secret"

var clock = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// inbox stores notifications synchronously so tests can read them back
// right after the call that produced them.
type inbox struct{ repo *repository.NotificationRepo }

func (i inbox) Notify(n model.Notification) {
	n.ID = uuid.NewString()
	_ = i.repo.Send(context.Background(), n)
}

func (i inbox) Audit(model.AuditEntry) {}

// purgeCounter counts cache purges requested by the handlers.
type purgeCounter struct{ n atomic.Int32 }

func (p *purgeCounter) Purge(context.Context) { p.n.Add(1) }

type api struct {
	e             *echo.Echo
	notifications *repository.NotificationRepo
	purges        *purgeCounter
	user, other   string
	tech, admin   string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logging.Discard()
	catalog := repository.NewCatalogRepo(db)
	allocs := repository.NewAllocationRepo(db)
	blocks := repository.NewBlockRepo(db)
	notes := repository.NewNotificationRepo(db)
	effects := inbox{repo: notes}
	m := metrics.New()

	coord := service.NewCoordinator(service.Deps{
		DB:          db,
		Catalog:     catalog,
		Requests:    repository.NewRequestRepo(db),
		Allocations: allocs,
		Blocks:      blocks,
		Effects:     effects,
		Metrics:     m,
		Logger:      log,
		Now:         func() time.Time { return clock },
	})
	sched := service.NewScheduler(service.SchedulerConfig{Store: allocs, Items: catalog, Effects: effects, Logger: log})

	ch := handler.NewCatalogHandler(catalog, repository.NewLookupRepo(db), coord, log)
	rh := handler.NewRequestHandler(coord, notes, log)
	ah := handler.NewAdminHandler(coord, catalog, blocks, sched, log)
	ah.Effects = effects
	ah.Now = func() time.Time { return clock }
	purges := &purgeCounter{}
	rh.Cache, ah.Cache = purges, purges

	e := echo.New()
	RegisterRoutes(e, handler.Health{DB: db}, m.Handler())
	RegisterPublic(e, ch, middleware.ResponseCache(config.CacheConfig{}, nil, log))
	RegisterRequests(e, rh, secret)
	RegisterAdmin(e, ah, ch, rh, secret)

	return &api{
		e:             e,
		notifications: notes,
		purges:        purges,
		user:          sign(t, 10, model.RoleUser),
		other:         sign(t, 11, model.RoleUser),
		tech:          sign(t, 2, model.RoleTechnician),
		admin:         sign(t, 1, model.RoleAdmin),
	}
}

func sign(t *testing.T, id uint64, role model.Role) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, id, role, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok.Token
}

func (a *api) call(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func (a *api) createItem(t *testing.T, body map[string]any) model.CatalogItem {
	t.Helper()
	rec := a.call(t, http.MethodPost, "/v1/admin/catalog", a.admin, body)
	expect(t, rec, http.StatusCreated)
	return decode[model.CatalogItem](t, rec)
}

func labRequest(itemID uint64, qty int) map[string]any {
	return map[string]any{
		"item_id":       itemID,
		"quantity":      qty,
		"justification": "práctica de redes",
		"window": map[string]any{
			"date":  "2024-03-05",
			"slots": []map[string]string{{"start": "08:00", "end": "10:00"}},
		},
	}
}

func TestOperationalAndCatalogRoutes(t *testing.T) {
	a := newAPI(t)

	expect(t, a.call(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
	rec := a.call(t, http.MethodGet, "/metrics", "", nil)
	expect(t, rec, http.StatusOK)

	lab := map[string]any{"kind": "laboratory", "code": "L1", "name": "Laboratorio 1", "capacity": 30}
	expect(t, a.call(t, http.MethodPost, "/v1/admin/catalog", "", lab), http.StatusUnauthorized)
	expect(t, a.call(t, http.MethodPost, "/v1/admin/catalog", a.user, lab), http.StatusForbidden)
	expect(t, a.call(t, http.MethodPost, "/v1/admin/catalog", a.tech, lab), http.StatusForbidden)
	item := a.createItem(t, lab)
	expect(t, a.call(t, http.MethodPost, "/v1/admin/catalog", a.admin, lab), http.StatusConflict)

	res := a.createItem(t, map[string]any{"kind": "recurso", "code": "R1", "name": "Proyector", "total_quantity": 4})
	if res.AvailableQuantity != 4 {
		t.Fatalf("new resource available = %d, want 4", res.AvailableQuantity)
	}

	list := decode[[]model.CatalogItem](t, a.call(t, http.MethodGet, "/v1/catalog?kind=lab", "", nil))
	if len(list) != 1 || list[0].ID != item.ID {
		t.Fatalf("lab listing = %+v", list)
	}
	expect(t, a.call(t, http.MethodGet, "/v1/catalog?kind=boat", "", nil), http.StatusBadRequest)
	expect(t, a.call(t, http.MethodGet, "/v1/catalog/abc", "", nil), http.StatusBadRequest)
	expect(t, a.call(t, http.MethodGet, "/v1/catalog/999", "", nil), http.StatusNotFound)

	path := fmt.Sprintf("/v1/admin/catalog/%d/status", item.ID)
	rec = a.call(t, http.MethodPatch, path, a.admin, map[string]string{"status": "mantenimiento"})
	expect(t, rec, http.StatusOK)
	if got := decode[model.CatalogItem](t, rec); got.Status != model.StatusInMaintenance {
		t.Fatalf("status = %s", got.Status)
	}
	avail := fmt.Sprintf("/v1/catalog/%d/availability?date=2024-03-05&slots=08:00-10:00&quantity=5", item.ID)
	out := decode[map[string]any](t, a.call(t, http.MethodGet, avail, "", nil))
	if out["available"] != false || out["code"] != "item_unavailable" {
		t.Fatalf("availability in maintenance = %v", out)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	item := a.createItem(t, map[string]any{"kind": "LABORATORY", "code": "L1", "name": "Laboratorio 1", "capacity": 30})

	rec := a.call(t, http.MethodPost, "/v1/requests", a.user, labRequest(item.ID, 20))
	expect(t, rec, http.StatusCreated)
	first := decode[model.Request](t, rec)
	if first.Status != model.RequestPending || first.RequesterID != 10 {
		t.Fatalf("submitted = %+v", first)
	}
	rec = a.call(t, http.MethodPost, "/v1/requests", a.other, labRequest(item.ID, 15))
	expect(t, rec, http.StatusCreated)
	second := decode[model.Request](t, rec)

	expect(t, a.call(t, http.MethodPost, "/v1/requests", a.user, labRequest(item.ID, 31)), http.StatusBadRequest)
	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", first.ID), a.user, nil), http.StatusForbidden)

	pending := decode[[]model.Request](t, a.call(t, http.MethodGet, "/v1/admin/requests", a.tech, nil))
	if len(pending) != 2 {
		t.Fatalf("pending queue = %d, want 2", len(pending))
	}

	rec = a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", first.ID), a.tech, nil)
	expect(t, rec, http.StatusOK)
	alloc := decode[model.Allocation](t, rec)
	if alloc.RequestID != first.ID || !alloc.Active() {
		t.Fatalf("allocation = %+v", alloc)
	}

	avail := fmt.Sprintf("/v1/catalog/%d/availability?date=2024-03-05&slots=08:00-10:00&quantity=15", item.ID)
	out := decode[map[string]any](t, a.call(t, http.MethodGet, avail, "", nil))
	if out["available"] != false || out["code"] != "capacity_exceeded" {
		t.Fatalf("availability after approval = %v", out)
	}
	avail = strings.Replace(avail, "quantity=15", "quantity=10", 1)
	out = decode[map[string]any](t, a.call(t, http.MethodGet, avail, "", nil))
	if out["available"] != true || out["remaining"] != float64(10) {
		t.Fatalf("availability for 10 = %v", out)
	}

	rec = a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", second.ID), a.tech, nil)
	expect(t, rec, http.StatusUnprocessableEntity)
	if body := decode[map[string]string](t, rec); body["code"] != "capacity_exceeded" {
		t.Fatalf("second approval = %v", body)
	}
	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", first.ID), a.tech, nil), http.StatusConflict)

	expect(t, a.call(t, http.MethodGet, fmt.Sprintf("/v1/requests/%d", second.ID), a.user, nil), http.StatusForbidden)
	expect(t, a.call(t, http.MethodDelete, fmt.Sprintf("/v1/requests/%d", second.ID), a.user, nil), http.StatusForbidden)
	expect(t, a.call(t, http.MethodDelete, fmt.Sprintf("/v1/requests/%d", second.ID), a.other, nil), http.StatusNoContent)
	expect(t, a.call(t, http.MethodGet, fmt.Sprintf("/v1/requests/%d", second.ID), a.other, nil), http.StatusNotFound)

	got := decode[map[string]json.RawMessage](t, a.call(t, http.MethodGet, fmt.Sprintf("/v1/requests/%d", first.ID), a.user, nil))
	if _, ok := got["allocation"]; !ok {
		t.Fatalf("approved request without allocation: %s", got)
	}
	mine := decode[[]model.Request](t, a.call(t, http.MethodGet, "/v1/my-requests?status=aprobada", a.user, nil))
	if len(mine) != 1 || mine[0].ID != first.ID {
		t.Fatalf("my approved requests = %+v", mine)
	}

	notes := decode[[]model.Notification](t, a.call(t, http.MethodGet, "/v1/my-notifications", a.user, nil))
	if len(notes) != 1 || notes[0].Kind != model.NotifyApproved {
		t.Fatalf("notifications = %+v", notes)
	}

	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/allocations/%d/return", alloc.ID), a.other, nil), http.StatusForbidden)
	rec = a.call(t, http.MethodPost, fmt.Sprintf("/v1/allocations/%d/return", alloc.ID), a.user, nil)
	expect(t, rec, http.StatusOK)
	if returned := decode[model.Allocation](t, rec); returned.Status != model.AllocationReturned {
		t.Fatalf("returned = %+v", returned)
	}
	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/allocations/%d/return", alloc.ID), a.tech, nil), http.StatusConflict)

	all := decode[[]model.Allocation](t, a.call(t, http.MethodGet, "/v1/admin/allocations?status=returned", a.tech, nil))
	if len(all) != 1 {
		t.Fatalf("returned allocations = %d, want 1", len(all))
	}
}

func TestRejectAndCheckIn(t *testing.T) {
	a := newAPI(t)
	item := a.createItem(t, map[string]any{"kind": "lab", "code": "L2", "name": "Laboratorio 2", "capacity": 25})

	one := decode[model.Request](t, a.call(t, http.MethodPost, "/v1/requests", a.user, labRequest(item.ID, 10)))
	two := decode[model.Request](t, a.call(t, http.MethodPost, "/v1/requests", a.other, labRequest(item.ID, 10)))

	rec := a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/reject", two.ID), a.tech, map[string]string{"reason": "sin docente"})
	expect(t, rec, http.StatusOK)
	if rejected := decode[model.Request](t, rec); rejected.Status != model.RequestRejected || rejected.RejectionReason != "sin docente" {
		t.Fatalf("rejected = %+v", rejected)
	}
	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", two.ID), a.tech, nil), http.StatusConflict)

	alloc := decode[model.Allocation](t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", one.ID), a.admin, nil))
	rec = a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/allocations/%d/checkin", alloc.ID), a.tech, nil)
	expect(t, rec, http.StatusOK)
	if in := decode[model.Allocation](t, rec); in.CheckedInAt == nil {
		t.Fatalf("check-in not recorded: %+v", in)
	}
	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/allocations/%d/checkin", alloc.ID), a.user, nil), http.StatusForbidden)
}

func TestBlocksAndSweep(t *testing.T) {
	a := newAPI(t)
	item := a.createItem(t, map[string]any{"kind": "resource", "code": "R1", "name": "Osciloscopio", "total_quantity": 3})

	bad := map[string]any{"item_id": item.ID, "start_date": "2024-03-09", "end_date": "2024-03-07", "reason": "calibración"}
	expect(t, a.call(t, http.MethodPost, "/v1/admin/blocks", a.tech, bad), http.StatusBadRequest)
	missing := map[string]any{"item_id": 999, "start_date": "2024-03-07", "end_date": "2024-03-07", "reason": "calibración"}
	expect(t, a.call(t, http.MethodPost, "/v1/admin/blocks", a.tech, missing), http.StatusNotFound)

	good := map[string]any{"item_id": item.ID, "start_date": "2024-03-07", "end_date": "2024-03-07", "reason": "calibración"}
	rec := a.call(t, http.MethodPost, "/v1/admin/blocks", a.tech, good)
	expect(t, rec, http.StatusCreated)
	block := decode[map[string]any](t, rec)
	blockID := uint64(block["id"].(float64))

	list := decode[[]map[string]any](t, a.call(t, http.MethodGet, fmt.Sprintf("/v1/admin/blocks?item_id=%d", item.ID), a.tech, nil))
	if len(list) != 1 || list[0]["start_date"] != "2024-03-07" {
		t.Fatalf("blocks = %v", list)
	}

	loan := map[string]any{
		"item_id":  item.ID,
		"quantity": 1,
		"window":   map[string]any{"date": "2024-03-06", "return_date": "2024-03-08"},
	}
	req := decode[model.Request](t, a.call(t, http.MethodPost, "/v1/requests", a.user, loan))
	rec = a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", req.ID), a.tech, nil)
	expect(t, rec, http.StatusUnprocessableEntity)
	if body := decode[map[string]string](t, rec); body["code"] != "blocked" {
		t.Fatalf("approval over block = %v", body)
	}

	expect(t, a.call(t, http.MethodDelete, fmt.Sprintf("/v1/admin/blocks/%d", blockID), a.tech, nil), http.StatusNoContent)
	expect(t, a.call(t, http.MethodDelete, "/v1/admin/blocks/999", a.tech, nil), http.StatusNotFound)
	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", req.ID), a.tech, nil), http.StatusOK)

	expect(t, a.call(t, http.MethodPost, "/v1/admin/sweep", a.tech, nil), http.StatusForbidden)
	rec = a.call(t, http.MethodPost, "/v1/admin/sweep", a.admin, nil)
	expect(t, rec, http.StatusOK)
	report := decode[service.SweepReport](t, rec)
	if report.Date != "2024-03-01" || report.Scanned != 1 || report.Reminders != 0 {
		t.Fatalf("sweep report = %+v", report)
	}
}

func TestNotificationInbox(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()
	for _, id := range []string{"n-1", "n-2"} {
		n := model.Notification{ID: id, RecipientID: 10, Kind: model.NotifyGeneral, Title: "Aviso", Body: id}
		if err := a.notifications.Send(ctx, n); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	if list := decode[[]model.Notification](t, a.call(t, http.MethodGet, "/v1/my-notifications", a.user, nil)); len(list) != 2 {
		t.Fatalf("inbox = %d, want 2", len(list))
	}
	expect(t, a.call(t, http.MethodPost, "/v1/my-notifications/n-1/read", a.user, nil), http.StatusNoContent)
	expect(t, a.call(t, http.MethodPost, "/v1/my-notifications/n-2/read", a.other, nil), http.StatusNotFound)

	unread := decode[[]model.Notification](t, a.call(t, http.MethodGet, "/v1/my-notifications?unread=true", a.user, nil))
	if len(unread) != 1 || unread[0].ID != "n-2" {
		t.Fatalf("unread = %+v", unread)
	}
	expect(t, a.call(t, http.MethodGet, "/v1/my-notifications?limit=x", a.user, nil), http.StatusBadRequest)
	if list := decode[[]model.Notification](t, a.call(t, http.MethodGet, "/v1/my-notifications", a.other, nil)); len(list) != 0 {
		t.Fatalf("other inbox = %d, want 0", len(list))
	}
}

func TestCapacityChangesPurgeCatalogCache(t *testing.T) {
	a := newAPI(t)
	item := a.createItem(t, map[string]any{"kind": "resource", "code": "R1", "name": "Proyector", "total_quantity": 2})
	loan := map[string]any{"item_id": item.ID, "quantity": 1, "window": map[string]any{"date": "2024-03-06"}}
	req := decode[model.Request](t, a.call(t, http.MethodPost, "/v1/requests", a.user, loan))
	if got := a.purges.n.Load(); got != 0 {
		t.Fatalf("purges after submit = %d, want 0", got)
	}

	rec := a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", req.ID), a.tech, nil)
	expect(t, rec, http.StatusOK)
	alloc := decode[model.Allocation](t, rec)
	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/allocations/%d/return", alloc.ID), a.user, nil), http.StatusOK)

	block := map[string]any{"item_id": item.ID, "start_date": "2024-03-07", "end_date": "2024-03-08", "reason": "inventario"}
	rec = a.call(t, http.MethodPost, "/v1/admin/blocks", a.tech, block)
	expect(t, rec, http.StatusCreated)
	blockID := uint64(decode[map[string]any](t, rec)["id"].(float64))
	expect(t, a.call(t, http.MethodDelete, fmt.Sprintf("/v1/admin/blocks/%d", blockID), a.tech, nil), http.StatusNoContent)

	if got := a.purges.n.Load(); got != 4 {
		t.Fatalf("purges = %d, want one per approve, return and block change", got)
	}
	expect(t, a.call(t, http.MethodPost, fmt.Sprintf("/v1/admin/requests/%d/approve", req.ID), a.tech, nil), http.StatusConflict)
	if got := a.purges.n.Load(); got != 4 {
		t.Fatalf("failed approval purged the cache: %d", got)
	}
}
