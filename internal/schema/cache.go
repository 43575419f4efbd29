package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atlekbai/record_query/internal/formula"
	"golang.org/x/sync/singleflight"
)

var (
	ErrTableNotFound        = errors.New("table not found")
	ErrCacheViewUnavailable = errors.New("cache view unavailable")
)

// Provider supplies table domains to the query compiler.
type Provider interface {
	// GetAllRelatedTableDomains returns the table graph reachable from tableID.
	// A non-empty projection restricts the root's relations to those fields.
	GetAllRelatedTableDomains(ctx context.Context, tableID string, projection []string) (*Domains, error)
	// GetTableDomainByID returns a single table, used by the cache-view mode.
	GetTableDomainByID(ctx context.Context, tableID string) (*TableDomain, error)
}

// Source fetches the full set of table definitions from a metadata store.
type Source interface {
	Fetch(ctx context.Context) ([]*TableDomain, error)
}

// Cache is an in-memory metadata snapshot. Tables handed out are shared and
// must be treated as read-only.
type Cache struct {
	mu     sync.RWMutex
	tables map[string]*TableDomain
	group  singleflight.Group
}

var _ Provider = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{tables: make(map[string]*TableDomain)}
}

// NewCacheFromTables builds a cache over already constructed tables.
func NewCacheFromTables(tables ...*TableDomain) *Cache {
	c := NewCache()
	c.Put(tables...)
	return c
}

// Load replaces the snapshot with the tables fetched from src.
func (c *Cache) Load(ctx context.Context, src Source) error {
	tables, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("schema cache load: %w", err)
	}

	byID := make(map[string]*TableDomain, len(tables))
	for _, t := range tables {
		t.index()
		byID[t.ID] = t
	}

	c.mu.Lock()
	c.tables = byID
	c.mu.Unlock()
	return nil
}

// Refresh reloads the snapshot, collapsing concurrent refreshes into one fetch.
func (c *Cache) Refresh(ctx context.Context, src Source) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.Load(ctx, src)
	})
	return err
}

// Put adds or replaces tables.
func (c *Cache) Put(tables ...*TableDomain) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tables {
		t.index()
		c.tables[t.ID] = t
	}
}

// TableCount returns the number of loaded tables.
func (c *Cache) TableCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

func (c *Cache) GetTableDomainByID(ctx context.Context, tableID string) (*TableDomain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	return t, nil
}

func (c *Cache) GetAllRelatedTableDomains(ctx context.Context, tableID string, projection []string) (*Domains, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	root, ok := c.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}

	// Breadth-first over relation targets. The visited set keeps
	// self-referencing and cyclic links finite.
	visited := map[string]bool{root.ID: true}
	collected := []*TableDomain{root}
	queue := relatedTableIDs(root, projection)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		t, ok := c.tables[id]
		if !ok {
			// Dangling reference; the compiler treats dependent fields as not ready.
			continue
		}
		collected = append(collected, t)
		queue = append(queue, relatedTableIDs(t, nil)...)
	}
	return NewDomains(root.ID, collected...), nil
}

// relatedTableIDs lists the foreign tables referenced by fields of t.
// When only is non-empty, just those fields count, together with the links
// they go through and the fields their formulas read.
func relatedTableIDs(t *TableDomain, only []string) []string {
	fields := t.Fields
	if len(only) > 0 {
		fields = closure(t, only)
	}

	var ids []string
	for _, f := range fields {
		switch {
		case f.LookupOptions != nil && f.LookupOptions.ForeignTableID != "":
			ids = append(ids, f.LookupOptions.ForeignTableID)
		case f.Options.ForeignTableID != "":
			ids = append(ids, f.Options.ForeignTableID)
		}
	}
	return ids
}

func closure(t *TableDomain, ids []string) []*Field {
	var out []*Field
	seen := make(map[string]bool)
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		f, ok := t.Field(id)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, f)

		if f.LookupOptions != nil {
			queue = append(queue, f.LookupOptions.LinkFieldID)
		}
		if f.Type == FieldFormula && !f.IsLookup {
			if n, err := formula.Parse(f.Options.Expression); err == nil {
				queue = append(queue, formula.Refs(n)...)
			}
		}
	}
	return out
}
