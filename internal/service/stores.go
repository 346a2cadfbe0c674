package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// The coordinator depends on these narrow views of the repositories so it
// can be wired to any adapter.  Methods ending in Tx must run inside the
// transaction they are given.

// TxBeginner opens transactions; *sql.DB satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// CatalogStore is the coordinator's view of the catalog.
type CatalogStore interface {
	Get(ctx context.Context, id uint64) (model.CatalogItem, error)
	GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.CatalogItem, error)
	LockTx(ctx context.Context, tx *sql.Tx, id uint64) error
	ReserveQuantityTx(ctx context.Context, tx *sql.Tx, id uint64, qty int) error
	ReleaseQuantityTx(ctx context.Context, tx *sql.Tx, id uint64, qty int) error
	SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.ItemStatus) error
}

// RequestStore is the coordinator's view of the request ledger.
type RequestStore interface {
	Create(ctx context.Context, req *model.Request) error
	Get(ctx context.Context, id uint64) (model.Request, error)
	GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Request, error)
	List(ctx context.Context, f model.RequestFilter) ([]model.Request, error)
	DecideTx(ctx context.Context, tx *sql.Tx, id uint64, status model.RequestStatus, reason string, decidedBy uint64, at time.Time) error
	DeletePendingTx(ctx context.Context, tx *sql.Tx, id uint64) error
}

// AllocationStore is the coordinator's view of the allocation ledger.
type AllocationStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, a *model.Allocation) error
	Get(ctx context.Context, id uint64) (model.Allocation, error)
	GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Allocation, error)
	GetByRequest(ctx context.Context, requestID uint64) (model.Allocation, error)
	List(ctx context.Context, f model.AllocationFilter) ([]model.Allocation, error)
	ListActiveByItem(ctx context.Context, itemID uint64) ([]model.Allocation, error)
	ListActiveByItemTx(ctx context.Context, tx *sql.Tx, itemID uint64) ([]model.Allocation, error)
	MarkReturnedTx(ctx context.Context, tx *sql.Tx, id, by uint64, at time.Time) error
	CheckIn(ctx context.Context, id uint64, at time.Time) error
}

// BlockStore is the coordinator's view of the blocking register.
type BlockStore interface {
	ListActiveByItem(ctx context.Context, itemID uint64) ([]model.Block, error)
	ListActiveByItemTx(ctx context.Context, tx *sql.Tx, itemID uint64) ([]model.Block, error)
}

// SideEffects receives post-commit notifications and audit entries;
// *notify.Dispatcher satisfies it.
type SideEffects interface {
	Notify(n model.Notification)
	Audit(e model.AuditEntry)
}
