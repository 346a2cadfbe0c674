package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestParseDateLayouts(t *testing.T) {
	for _, s := range []string{"2024-03-05", "2024-03-05T23:30:00-05:00", "2024-03-05 08:00:00", "05/03/2024", "2024/03/05"} {
		d, err := ParseDate(s)
		if err != nil {
			t.Errorf("%s: %v", s, err)
			continue
		}
		if FormatDate(d) != "2024-03-05" || d.Location() != time.UTC || d.Hour() != 0 {
			t.Errorf("%s parsed as %v", s, d)
		}
	}
	if _, err := ParseDate("mañana"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad date error = %v", err)
	}
}

func TestCalendarHelpers(t *testing.T) {
	bogota := time.FixedZone("COT", -5*3600)
	late := time.Date(2024, 3, 4, 22, 0, 0, 0, bogota)
	if got := FormatDate(DateOf(late)); got != "2024-03-04" {
		t.Fatalf("DateOf keeps the local day: %s", got)
	}
	if n := DaysBetween(mustDate(t, "2024-02-28"), mustDate(t, "2024-03-01")); n != 2 {
		t.Fatalf("days across leap day = %d", n)
	}
	if n := DaysBetween(mustDate(t, "2024-03-10"), mustDate(t, "2024-03-07")); n != -3 {
		t.Fatalf("negative span = %d", n)
	}
	m, err := ParseClock("07:45")
	if err != nil || m != 465 || FormatClock(m) != "07:45" {
		t.Fatalf("clock = %d, %v", m, err)
	}
	if m, err := ParseClock("2:30 PM"); err != nil || m != 870 {
		t.Fatalf("12h clock = %d, %v", m, err)
	}
	if _, err := ParseClock("25:00"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad clock error = %v", err)
	}
}

func TestWindowValidate(t *testing.T) {
	day := mustDate(t, "2024-03-05")
	before := mustDate(t, "2024-03-04")

	w := Window{Date: day, Slots: []TimeSlot{{600, 720}, {480, 600}}}
	if err := w.Validate(KindLaboratory); err != nil {
		t.Fatalf("adjacent slots: %v", err)
	}
	if w.Slots[0].Start != 480 {
		t.Fatalf("slots not sorted: %v", w.Slots)
	}

	bad := []struct {
		name string
		w    Window
		kind ItemKind
	}{
		{"no date", Window{Slots: []TimeSlot{{480, 600}}}, KindLaboratory},
		{"lab without slots", Window{Date: day}, KindLaboratory},
		{"lab with return date", Window{Date: day, ReturnDate: &day, Slots: []TimeSlot{{480, 600}}}, KindLaboratory},
		{"empty slot", Window{Date: day, Slots: []TimeSlot{{600, 600}}}, KindLaboratory},
		{"overlap", Window{Date: day, Slots: []TimeSlot{{480, 600}, {540, 660}}}, KindLaboratory},
		{"resource with slots", Window{Date: day, Slots: []TimeSlot{{480, 600}}}, KindResource},
		{"return before loan", Window{Date: day, ReturnDate: &before}, KindResource},
	}
	for _, tc := range bad {
		w := tc.w
		if err := w.Validate(tc.kind); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: got %v", tc.name, err)
		}
	}

	open := Window{Date: day}
	if err := open.Validate(KindResource); err != nil {
		t.Fatalf("open-ended loan: %v", err)
	}
	if from, to := open.Range(); !from.Equal(day) || !to.Equal(day) {
		t.Fatalf("open loan range = %v..%v", from, to)
	}
}

func TestWindowJSONShape(t *testing.T) {
	var w Window
	raw := `{"date":"2024-03-05","slots":[{"start":"08:00","end":"10:00"}]}`
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatal(err)
	}
	out, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != raw {
		t.Fatalf("marshal = %s", out)
	}
	if err := json.Unmarshal([]byte(`{"date":"2024-03-05","slots":[{"start":"8h","end":"10:00"}]}`), &w); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad slot error = %v", err)
	}
}

func TestBlock(t *testing.T) {
	b := Block{ItemID: 1, StartDate: mustDate(t, "2024-03-10"), EndDate: mustDate(t, "2024-03-12"), Reason: "pintura", Active: true}
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	if !b.Covers(mustDate(t, "2024-03-12"), mustDate(t, "2024-03-20")) {
		t.Fatal("shared last day not covered")
	}
	if b.Covers(mustDate(t, "2024-03-13"), mustDate(t, "2024-03-14")) {
		t.Fatal("later window covered")
	}
	b.Active = false
	if b.Covers(mustDate(t, "2024-03-11"), mustDate(t, "2024-03-11")) {
		t.Fatal("inactive block covers")
	}
	b.EndDate = mustDate(t, "2024-03-01")
	if err := b.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("reversed block: %v", err)
	}
	out, _ := json.Marshal(Block{ID: 3, StartDate: mustDate(t, "2024-03-10"), EndDate: mustDate(t, "2024-03-12")})
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil || m["start_date"] != "2024-03-10" || m["end_date"] != "2024-03-12" {
		t.Fatalf("block json = %s", out)
	}
}

func TestLegacyEncodings(t *testing.T) {
	statuses := map[string]ItemStatus{
		"1": StatusAvailable, "disponible": StatusAvailable,
		"2": StatusInMaintenance, "Mantenimiento": StatusInMaintenance,
		"3": StatusOutOfService, "inactivo": StatusOutOfService,
		"4": StatusReserved, "prestado": StatusReserved,
	}
	for in, want := range statuses {
		if got, err := ParseItemStatus(in); err != nil || got != want {
			t.Errorf("ParseItemStatus(%q) = %s, %v", in, got, err)
		}
	}
	if got, err := ParseRequestStatus("0"); err != nil || got != RequestPending {
		t.Errorf("request 0 = %s, %v", got, err)
	}
	if got, err := ParseAllocationStatus("true"); err != nil || got != AllocationReturned {
		t.Errorf("allocation true = %s, %v", got, err)
	}
	if _, err := ParseItemKind("boat"); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown kind: %v", err)
	}
	for _, st := range []RequestStatus{RequestPending, RequestApproved, RequestRejected} {
		for _, sp := range st.Spellings() {
			if got, err := ParseRequestStatus(sp); err != nil || got != st {
				t.Errorf("request spelling %q = %s, %v", sp, got, err)
			}
		}
	}
	for _, st := range []AllocationStatus{AllocationActive, AllocationReturned} {
		for _, sp := range st.Spellings() {
			if got, err := ParseAllocationStatus(sp); err != nil || got != st {
				t.Errorf("allocation spelling %q = %s, %v", sp, got, err)
			}
		}
	}
	if sp := RequestPending.Spellings(); len(sp) == 0 || sp[0] != "pending" {
		t.Errorf("pending spellings = %v", sp)
	}
	if !StatusReserved.Usable() || StatusInMaintenance.Usable() || StatusOutOfService.Usable() {
		t.Error("usable statuses")
	}
}

func TestCatalogItem(t *testing.T) {
	lab := CatalogItem{Kind: KindLaboratory, Code: "L1", Name: "Redes", Capacity: 30, TotalQuantity: 99}
	if lab.Limit() != 30 || lab.Validate() != nil {
		t.Fatalf("lab limit = %d", lab.Limit())
	}
	res := CatalogItem{Kind: KindResource, Code: "R1", Name: "Proyector", TotalQuantity: 4, AvailableQuantity: 5}
	if res.Limit() != 4 {
		t.Fatalf("resource limit = %d", res.Limit())
	}
	if err := res.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("available above total: %v", err)
	}
	if err := (CatalogItem{Kind: KindLaboratory, Code: "L2", Name: "x"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero capacity: %v", err)
	}
}

func TestRolesAndCodes(t *testing.T) {
	if ParseRole("Administrador") != RoleAdmin || ParseRole("técnico") != RoleTechnician || ParseRole("") != RoleUser {
		t.Fatal("role parsing")
	}
	if (Actor{ID: 1, Role: RoleUser}).Staff() || !(Actor{ID: 2, Role: RoleTechnician}).Staff() {
		t.Fatal("staff")
	}
	wrapped := fmt.Errorf("approve: %w", fmt.Errorf("%w: slot full", ErrCapacityExceeded))
	if Code(wrapped) != "capacity_exceeded" || Code(errors.New("boom")) != "internal" {
		t.Fatalf("codes = %s", Code(wrapped))
	}
}
