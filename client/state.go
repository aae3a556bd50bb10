package client

import (
	"context"
	"sync"

	"spendwise/models"
	"spendwise/pkg/txquery"
)

// ExplorerState holds the transaction-explorer view state: the active
// filters and the accumulated page data. Two fetch modes exist:
//
//   - Refresh: filters changed, reset to page 1 and replace the list;
//   - LoadMore: same filters, next page, append to the list.
//
// A newer fetch supersedes any in-flight one: each request takes a
// sequence token and cancels the previous request's context, and a
// response whose token is no longer current is dropped. Stale results
// can therefore never overwrite newer state.
type ExplorerState struct {
	api *Client

	mu           sync.Mutex
	filters      ListParams
	transactions []models.Transaction
	pagination   *txquery.Pagination
	seq          uint64
	cancel       context.CancelFunc
}

func NewExplorerState(api *Client) *ExplorerState {
	return &ExplorerState{
		api:     api,
		filters: ListParams{Page: 1, Limit: 10, SortBy: "date", SortOrder: "desc"},
	}
}

// Filters returns a copy of the active filters.
func (s *ExplorerState) Filters() ListParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// Transactions returns a copy of the accumulated list.
func (s *ExplorerState) Transactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// Pagination returns the metadata of the last applied fetch, or nil.
func (s *ExplorerState) Pagination() *txquery.Pagination {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pagination == nil {
		return nil
	}
	p := *s.pagination
	return &p
}

// HasMore reports whether another page exists beyond what is loaded.
func (s *ExplorerState) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagination != nil && s.pagination.HasMore
}

// Refresh applies the given filters, resets to page 1 and replaces the
// list with the first matching page.
func (s *ExplorerState) Refresh(ctx context.Context, filters ListParams) error {
	filters.Page = 1
	if filters.Limit == 0 {
		filters.Limit = 10
	}
	return s.fetch(ctx, filters, false)
}

// LoadMore fetches the next page under the current filters and appends
// it. Before any page was loaded it fetches page 1; it is a no-op when
// no further page exists.
func (s *ExplorerState) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.pagination == nil {
		filters := s.filters
		s.mu.Unlock()
		return s.fetch(ctx, filters, false)
	}
	if !s.pagination.HasMore {
		s.mu.Unlock()
		return nil
	}
	filters := s.filters
	filters.Page++
	s.mu.Unlock()
	return s.fetch(ctx, filters, true)
}

func (s *ExplorerState) fetch(ctx context.Context, filters ListParams, appendMode bool) error {
	s.mu.Lock()
	s.seq++
	token := s.seq
	if s.cancel != nil {
		s.cancel() // supersede the in-flight request
	}
	fctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	res, err := s.api.ListTransactions(fctx, filters)

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.seq {
		// A newer fetch took over while this one was on the wire;
		// its result (or error) no longer matters.
		return nil
	}
	if err != nil {
		return err
	}
	s.filters = filters
	p := res.Pagination
	s.pagination = &p
	if appendMode {
		s.transactions = appendPage(s.transactions, res.Transactions)
	} else {
		s.transactions = res.Transactions
	}
	return nil
}

func appendPage(prev, next []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, 0, len(prev)+len(next))
	out = append(out, prev...)
	return append(out, next...)
}

// Reset clears all explorer state; call on logout.
func (s *ExplorerState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.seq++
	s.filters = ListParams{Page: 1, Limit: 10, SortBy: "date", SortOrder: "desc"}
	s.transactions = nil
	s.pagination = nil
}

// DashboardState caches the dashboard snapshot and the category list.
// Any mutation of the user's transactions must call Invalidate; the next
// Ensure then refetches. This replaces scattered manual re-fetch calls
// with one explicit contract.
type DashboardState struct {
	api *Client

	mu         sync.Mutex
	stats      txquery.DashboardStats
	categories []string
	gen        uint64 // bumped by Invalidate/Reset; a fetch started under an older gen is dropped
	loaded     bool
	stale      bool
}

func NewDashboardState(api *Client) *DashboardState {
	return &DashboardState{api: api}
}

// Ensure fetches the dashboard and categories if they were never loaded
// or were invalidated since the last load.
func (d *DashboardState) Ensure(ctx context.Context) error {
	d.mu.Lock()
	if d.loaded && !d.stale {
		d.mu.Unlock()
		return nil
	}
	gen := d.gen
	d.mu.Unlock()

	stats, err := d.api.Dashboard(ctx)
	if err != nil {
		return err
	}
	cats, err := d.api.Categories(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		// Invalidated while the fetch was in flight; the snapshot predates
		// the mutation. Stay stale so the next Ensure refetches.
		return nil
	}
	d.stats = stats
	d.categories = cats
	d.loaded = true
	d.stale = false
	return nil
}

// Invalidate marks the cached aggregates stale.
func (d *DashboardState) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stale = true
	d.gen++
}

// Stats returns the last loaded snapshot.
func (d *DashboardState) Stats() txquery.DashboardStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Categories returns the last loaded category list.
func (d *DashboardState) Categories() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.categories))
	copy(out, d.categories)
	return out
}

// Stale reports whether a refetch is pending.
func (d *DashboardState) Stale() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.loaded || d.stale
}

// Reset clears the snapshot; call on logout.
func (d *DashboardState) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.stats = txquery.DashboardStats{}
	d.categories = nil
	d.loaded = false
	d.stale = false
}
