package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aplabs/labreserve/internal/database"
	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
)

const sample = `
lookups:
  units:
    - {code: UND, label: Unidad}
    - {code: KIT, label: Kit}
  resource_types:
    - {code: AV, label: Audiovisual}
items:
  - kind: laboratory
    code: L1
    name: Laboratorio de Redes
    capacity: 30
    location: Bloque B
  - kind: recurso
    code: R1
    name: Proyector
    total_quantity: 4
    unit: UND
    resource_type: AV
blocks:
  - item: L1
    start_date: 2025-03-10
    end_date: 2025-03-14
    reason: mantenimiento preventivo
`

func newSeeder(t *testing.T) seeder {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(context.Background(), db, database.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return seeder{
		lookups: repository.NewLookupRepo(db),
		catalog: repository.NewCatalogRepo(db),
		blocks:  repository.NewBlockRepo(db),
		log:     logging.Discard(),
	}
}

func TestSeedIsRepeatable(t *testing.T) {
	f, err := parseSeed(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	s := newSeeder(t)
	ctx := context.Background()

	rep, err := s.apply(ctx, f)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Lookups != 3 || rep.Items != 2 || rep.Blocks != 1 {
		t.Fatalf("first run = %+v", rep)
	}

	items, err := s.catalog.List(ctx, model.KindResource, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].AvailableQuantity != 4 || items[0].Unit != "UND" {
		t.Fatalf("resources = %+v", items)
	}
	units, err := s.lookups.List(ctx, model.LookupUnits)
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 2 {
		t.Fatalf("units = %+v", units)
	}

	rep, err = s.apply(ctx, seedFile{Items: f.Items})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Items != 0 || rep.Skipped != 2 {
		t.Fatalf("second run = %+v", rep)
	}
}

func TestSeedRejectsBadInput(t *testing.T) {
	if _, err := parseSeed(strings.NewReader("items:\n  - {kind: lab, code: L1, colour: red}\n")); err == nil {
		t.Fatal("unknown field accepted")
	}
	if f, err := parseSeed(strings.NewReader("")); err != nil || len(f.Items) != 0 {
		t.Fatalf("empty file = %+v, %v", f, err)
	}

	s := newSeeder(t)
	ctx := context.Background()
	_, err := s.apply(ctx, seedFile{Items: []seedItem{{Kind: "laboratory", Code: "L9", Name: "Sin cupo"}}})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("zero capacity: %v", err)
	}
	_, err = s.apply(ctx, seedFile{Blocks: []seedBlock{{Item: "NOPE", StartDate: "2025-01-01", EndDate: "2025-01-02", Reason: "x"}}})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown block item: %v", err)
	}
}
