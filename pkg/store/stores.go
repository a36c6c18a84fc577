package store

import "database/sql"

// Stores bundles the per-entity stores behind one value so the engine and
// API can depend on a single persistence handle.
type Stores struct {
	*CatalogStore
	*ExecutionStore
	*FindingStore
	*BaselineStore
	*DriftStore
}

// New creates all stores over one connection pool.
func New(db *sql.DB) *Stores {
	return &Stores{
		CatalogStore:   NewCatalogStore(db),
		ExecutionStore: NewExecutionStore(db),
		FindingStore:   NewFindingStore(db),
		BaselineStore:  NewBaselineStore(db),
		DriftStore:     NewDriftStore(db),
	}
}
