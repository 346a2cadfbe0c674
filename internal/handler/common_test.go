package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: date is required", model.ErrValidation), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("%w: not yours", model.ErrForbidden), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: request 9", model.ErrNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: already approved", model.ErrInvalidTransition), http.StatusConflict, "invalid_transition"},
		{fmt.Errorf("%w: code taken", repository.ErrConflict), http.StatusConflict, "conflict"},
		{fmt.Errorf("%w: full", model.ErrCapacityExceeded), http.StatusUnprocessableEntity, "capacity_exceeded"},
		{fmt.Errorf("%w: maintenance", model.ErrBlocked), http.StatusUnprocessableEntity, "blocked"},
		{fmt.Errorf("%w: out of service", model.ErrItemUnavailable), http.StatusUnprocessableEntity, "item_unavailable"},
		{errUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("statusFor(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestFailHidesInternalErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := fail(c, nil, fmt.Errorf("dial tcp 10.0.0.5:3306: refused")); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"code\":\"internal\",\"error\":\"internal error\"}\n" {
		t.Fatalf("body = %q", got)
	}
}

func contextFor(target string) echo.Context {
	e := echo.New()
	return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
}

func TestWindowFromQuery(t *testing.T) {
	w, err := windowFromQuery(contextFor("/?date=2024-03-05&slots=10:00-12:00,%2008:00-10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if model.FormatDate(w.Date) != "2024-03-05" || len(w.Slots) != 2 {
		t.Fatalf("window = %+v", w)
	}
	if w.Slots[0].Start != 600 || w.Slots[1].End != 600 {
		t.Fatalf("slots = %v", w.Slots)
	}

	w, err = windowFromQuery(contextFor("/?date=2024-03-05&return_date=2024-03-07"))
	if err != nil || w.ReturnDate == nil || model.FormatDate(*w.ReturnDate) != "2024-03-07" {
		t.Fatalf("resource window = %+v, %v", w, err)
	}

	for _, q := range []string{"/?date=yesterday", "/?slots=0800", "/?slots=08:00-late"} {
		if _, err := windowFromQuery(contextFor(q)); err == nil {
			t.Errorf("%s: expected an error", q)
		} else if status, _ := statusFor(err); status != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", q, status)
		}
	}
}

func TestQueryHelpers(t *testing.T) {
	c := contextFor("/?item_id=7&bad=x&active=no")
	if id, ok := queryID(c, "item_id"); !ok || id != 7 {
		t.Fatalf("item_id = %d %v", id, ok)
	}
	if _, ok := queryID(c, "bad"); ok {
		t.Fatal("non-numeric id accepted")
	}
	if id, ok := queryID(c, "missing"); !ok || id != 0 {
		t.Fatalf("missing id = %d %v", id, ok)
	}
	if queryBool(c, "active", true) {
		t.Fatal("active=no read as true")
	}
	if !queryBool(c, "unset", true) {
		t.Fatal("missing flag should use the default")
	}
}
