package model

import (
	"fmt"
	"strings"
	"time"
)

// ItemKind distinguishes laboratories (reserved by time slot) from
// resources (lent by quantity).
type ItemKind string

const (
	KindLaboratory ItemKind = "LABORATORY"
	KindResource   ItemKind = "RESOURCE"
)

// ParseItemKind accepts the canonical names plus the short labels used by
// older records ("lab", "laboratorio", "recurso").
func ParseItemKind(s string) (ItemKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "laboratory", "lab", "laboratorio":
		return KindLaboratory, nil
	case "resource", "recurso":
		return KindResource, nil
	}
	return "", fmt.Errorf("%w: unknown item kind %q", ErrValidation, s)
}

// ItemStatus is the operational state of a catalog item.
type ItemStatus string

const (
	StatusAvailable     ItemStatus = "AVAILABLE"
	StatusInMaintenance ItemStatus = "IN_MAINTENANCE"
	StatusOutOfService  ItemStatus = "OUT_OF_SERVICE"
	StatusReserved      ItemStatus = "RESERVED"
)

// Usable reports whether new allocations may be placed on an item in this
// status.  Reserved items remain usable; their remaining capacity decides.
func (s ItemStatus) Usable() bool {
	return s == StatusAvailable || s == StatusReserved
}

// ParseItemStatus translates the stored status value into an ItemStatus.
// Besides the canonical names it understands the numeric codes and Spanish
// labels written by earlier versions of the admin screens:
//
//	1 / disponible      -> AVAILABLE
//	2 / mantenimiento   -> IN_MAINTENANCE
//	3 / fuera de servicio, inactivo -> OUT_OF_SERVICE
//	4 / reservado, ocupado, prestado -> RESERVED
func ParseItemStatus(s string) (ItemStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "available", "1", "disponible", "activo":
		return StatusAvailable, nil
	case "in_maintenance", "2", "mantenimiento", "en mantenimiento":
		return StatusInMaintenance, nil
	case "out_of_service", "3", "fuera de servicio", "fuera_de_servicio", "inactivo":
		return StatusOutOfService, nil
	case "reserved", "4", "reservado", "ocupado", "prestado":
		return StatusReserved, nil
	}
	return "", fmt.Errorf("%w: unknown item status %q", ErrValidation, s)
}

// CatalogItem is a laboratory or a resource that can be requested.
//
// Fields:
//
//	ID                – primary key.
//	Kind              – LABORATORY or RESOURCE.
//	Code              – short unique code shown to users (e.g. "L1", "R1").
//	Name              – display name.
//	Capacity          – laboratories: maximum participants per slot.
//	TotalQuantity     – resources: units owned.
//	AvailableQuantity – resources: units not committed to an Active allocation.
//	Unit              – resources: unit code from the units lookup.
//	ResourceType      – resources: type code from the resource types lookup.
//	Status            – operational status.
//	Location          – building/room or owning department.
//	Version           – bumped every time an approval or return serialises
//	                    on the item.
type CatalogItem struct {
	ID                uint64     `json:"id"`
	Kind              ItemKind   `json:"kind"`
	Code              string     `json:"code"`
	Name              string     `json:"name"`
	Capacity          int        `json:"capacity,omitempty"`
	TotalQuantity     int        `json:"total_quantity,omitempty"`
	AvailableQuantity int        `json:"available_quantity,omitempty"`
	Unit              string     `json:"unit,omitempty"`
	ResourceType      string     `json:"resource_type,omitempty"`
	Status            ItemStatus `json:"status"`
	Location          string     `json:"location,omitempty"`
	Version           uint64     `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Limit returns the capacity a request is measured against: participants
// for laboratories and total units for resources.
func (c CatalogItem) Limit() int {
	if c.Kind == KindLaboratory {
		return c.Capacity
	}
	return c.TotalQuantity
}

// Validate checks the fields an administrator must supply when creating
// an item.
func (c CatalogItem) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(c.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	switch c.Kind {
	case KindLaboratory:
		if c.Capacity <= 0 {
			return fmt.Errorf("%w: laboratory capacity must be positive", ErrValidation)
		}
	case KindResource:
		if c.TotalQuantity <= 0 {
			return fmt.Errorf("%w: resource quantity must be positive", ErrValidation)
		}
		if c.AvailableQuantity < 0 || c.AvailableQuantity > c.TotalQuantity {
			return fmt.Errorf("%w: available quantity must be between 0 and %d", ErrValidation, c.TotalQuantity)
		}
	default:
		return fmt.Errorf("%w: unknown item kind %q", ErrValidation, c.Kind)
	}
	return nil
}

// LookupKind names one of the reference tables maintained next to the
// catalog.
type LookupKind string

const (
	LookupStates        LookupKind = "states"
	LookupResourceTypes LookupKind = "resource_types"
	LookupUnits         LookupKind = "units"
)

// Lookup is a row of a reference table (states, resource types, units).
type Lookup struct {
	Kind  LookupKind `json:"kind" yaml:"-"`
	Code  string     `json:"code" yaml:"code"`
	Label string     `json:"label" yaml:"label"`
}
