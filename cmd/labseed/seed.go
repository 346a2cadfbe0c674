package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
)

// seedFile is the YAML layout accepted by labseed:
//
//	lookups:
//	  units:
//	    - {code: UND, label: Unidad}
//	items:
//	  - {kind: laboratory, code: L1, name: Laboratorio de Redes, capacity: 30}
//	  - {kind: resource, code: R1, name: Proyector, total_quantity: 4, unit: UND}
//	blocks:
//	  - {item: L1, start_date: 2025-03-10, end_date: 2025-03-14, reason: mantenimiento}
type seedFile struct {
	Lookups map[model.LookupKind][]model.Lookup `yaml:"lookups"`
	Items   []seedItem                          `yaml:"items"`
	Blocks  []seedBlock                         `yaml:"blocks"`
}

type seedItem struct {
	Kind              string `yaml:"kind"`
	Code              string `yaml:"code"`
	Name              string `yaml:"name"`
	Capacity          int    `yaml:"capacity"`
	TotalQuantity     int    `yaml:"total_quantity"`
	AvailableQuantity *int   `yaml:"available_quantity"`
	Unit              string `yaml:"unit"`
	ResourceType      string `yaml:"resource_type"`
	Status            string `yaml:"status"`
	Location          string `yaml:"location"`
}

type seedBlock struct {
	Item      string `yaml:"item"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
	Reason    string `yaml:"reason"`
}

// seedReport counts what a run changed.
type seedReport struct {
	Lookups int
	Items   int
	Skipped int
	Blocks  int
}

func parseSeed(r io.Reader) (seedFile, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return f, fmt.Errorf("parse seed: %w", err)
	}
	return f, nil
}

func (it seedItem) catalogItem() (model.CatalogItem, error) {
	kind, err := model.ParseItemKind(it.Kind)
	if err != nil {
		return model.CatalogItem{}, err
	}
	status := model.StatusAvailable
	if it.Status != "" {
		if status, err = model.ParseItemStatus(it.Status); err != nil {
			return model.CatalogItem{}, err
		}
	}
	out := model.CatalogItem{
		Kind:         kind,
		Code:         strings.TrimSpace(it.Code),
		Name:         strings.TrimSpace(it.Name),
		Unit:         it.Unit,
		ResourceType: it.ResourceType,
		Status:       status,
		Location:     it.Location,
	}
	if kind == model.KindLaboratory {
		out.Capacity = it.Capacity
	} else {
		out.TotalQuantity = it.TotalQuantity
		out.AvailableQuantity = it.TotalQuantity
		if it.AvailableQuantity != nil {
			out.AvailableQuantity = *it.AvailableQuantity
		}
	}
	return out, out.Validate()
}

// seeder applies a seed file.  Items whose code already exists are left
// untouched, so the same file can be loaded repeatedly.
type seeder struct {
	lookups *repository.LookupRepo
	catalog *repository.CatalogRepo
	blocks  *repository.BlockRepo
	log     *slog.Logger
}

func (s seeder) apply(ctx context.Context, f seedFile) (seedReport, error) {
	var rep seedReport
	for kind, rows := range f.Lookups {
		for _, l := range rows {
			l.Kind = kind
			if err := s.lookups.Upsert(ctx, l); err != nil {
				return rep, fmt.Errorf("lookup %s/%s: %w", kind, l.Code, err)
			}
			rep.Lookups++
		}
	}

	for _, raw := range f.Items {
		item, err := raw.catalogItem()
		if err != nil {
			return rep, fmt.Errorf("item %q: %w", raw.Code, err)
		}
		if err := s.catalog.Create(ctx, &item); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				s.log.Info("item exists, skipped", "code", item.Code)
				rep.Skipped++
				continue
			}
			return rep, fmt.Errorf("item %q: %w", item.Code, err)
		}
		rep.Items++
	}

	if len(f.Blocks) == 0 {
		return rep, nil
	}
	existing, err := s.catalog.List(ctx, "", "")
	if err != nil {
		return rep, err
	}
	byCode := make(map[string]uint64, len(existing))
	for _, it := range existing {
		byCode[it.Code] = it.ID
	}
	for _, raw := range f.Blocks {
		id, ok := byCode[strings.TrimSpace(raw.Item)]
		if !ok {
			return rep, fmt.Errorf("block on %q: %w: unknown item", raw.Item, model.ErrNotFound)
		}
		b := model.Block{ItemID: id, Reason: raw.Reason, Active: true}
		if b.StartDate, err = model.ParseDate(raw.StartDate); err != nil {
			return rep, fmt.Errorf("block on %q: %w", raw.Item, err)
		}
		if b.EndDate, err = model.ParseDate(raw.EndDate); err != nil {
			return rep, fmt.Errorf("block on %q: %w", raw.Item, err)
		}
		if err := b.Validate(); err != nil {
			return rep, fmt.Errorf("block on %q: %w", raw.Item, err)
		}
		if err := s.blocks.Create(ctx, &b); err != nil {
			return rep, fmt.Errorf("block on %q: %w", raw.Item, err)
		}
		rep.Blocks++
	}
	return rep, nil
}
