package sqlgen

import (
	"errors"
	"fmt"
)

// Errors returned by StructureBuilder for caller bugs. Both indicate an
// inconsistency between the declared ownership tree and the builder's
// bookkeeping and abort the operation before any state is committed.
var (
	// ErrNoNodeParent is returned when a child is added under a domain key
	// that was never registered.
	ErrNoNodeParent = errors.New("sqlgen: there must be a node parent")
	// ErrParentMismatch is returned when the node registered for a domain
	// key does not represent that key.
	ErrParentMismatch = errors.New("sqlgen: node does not belong to the given parent")
)

// NodeID addresses one query node inside a builder's arena. IDs are stable
// for the lifetime of the builder; nodes are never removed, superseded
// nodes simply stop being reachable from the root.
type NodeID int32

const noNode NodeID = -1

// NodeKind discriminates the closed set of query-node variants.
type NodeKind uint8

const (
	// KindTable is a scan of a single table.
	KindTable NodeKind = iota
	// KindView is a 1:1 wrapper around a table, introduced whenever a
	// table becomes a join operand. Tables are never joined directly.
	KindView
	// KindJoin combines a parent side and a child side node.
	KindJoin
)

// String returns the kind name.
func (k NodeKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindView:
		return "view"
	case KindJoin:
		return "join"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// An AnalyticColumn tracks the provenance of one column through joins and
// views. The set of implementations is closed: BaseColumn, DerivedColumn,
// ForeignKey and RowNumber.
type AnalyticColumn[C comparable] interface {
	// Base resolves the column to the caller column key it wraps, through
	// any depth of derivation. ok is false for row-number columns, which
	// have no backing key.
	Base() (C, bool)

	analyticColumn()
}

// BaseColumn wraps a caller column key directly.
type BaseColumn[C comparable] struct {
	Column C
}

// Base implements AnalyticColumn.
func (c BaseColumn[C]) Base() (C, bool) { return c.Column, true }

func (BaseColumn[C]) analyticColumn() {}

// DerivedColumn wraps a column that crossed a join boundary. Resolving it
// always unwraps to the original column key.
type DerivedColumn[C comparable] struct {
	Column AnalyticColumn[C]
}

// Base implements AnalyticColumn.
func (c DerivedColumn[C]) Base() (C, bool) {
	if c.Column == nil {
		var zero C
		return zero, false
	}
	return c.Column.Base()
}

func (DerivedColumn[C]) analyticColumn() {}

// ForeignKey marks a column as the linkage to the owning table's
// identifier, used to reconstruct the ownership relation.
type ForeignKey[C comparable] struct {
	Column AnalyticColumn[C]
}

// ForeignKeyTo returns a ForeignKey referencing the given column key.
func ForeignKeyTo[C comparable](column C) ForeignKey[C] {
	return ForeignKey[C]{Column: BaseColumn[C]{Column: column}}
}

// Base implements AnalyticColumn.
func (c ForeignKey[C]) Base() (C, bool) {
	if c.Column == nil {
		var zero C
		return zero, false
	}
	return c.Column.Base()
}

func (ForeignKey[C]) analyticColumn() {}

// RowNumber is a synthetic per-partition ordinal column. It carries no
// caller column key; the SQL renderer materializes it as a window function
// to bound fan-out when flattening one-to-many relations.
type RowNumber[C comparable] struct{}

// Base implements AnalyticColumn. Row numbers have no backing key.
func (RowNumber[C]) Base() (C, bool) {
	var zero C
	return zero, false
}

func (RowNumber[C]) analyticColumn() {}

// TableDefinition describes one table of the aggregate before it is
// interned into the builder. It is an immutable value; WithID, WithColumns
// and WithForeignKey return updated copies.
type TableDefinition[T, C comparable] struct {
	table      T
	id         AnalyticColumn[C]
	foreignKey AnalyticColumn[C]
	columns    []AnalyticColumn[C]
}

// WithID replaces the identifier column.
func (d TableDefinition[T, C]) WithID(id C) TableDefinition[T, C] {
	d.id = BaseColumn[C]{Column: id}
	return d
}

// WithColumns replaces the regular column list.
func (d TableDefinition[T, C]) WithColumns(columns ...C) TableDefinition[T, C] {
	cs := make([]AnalyticColumn[C], len(columns))
	for i, c := range columns {
		cs[i] = BaseColumn[C]{Column: c}
	}
	d.columns = cs
	return d
}

// WithForeignKey replaces the foreign-key column pointing at the owning
// table's identifier.
func (d TableDefinition[T, C]) WithForeignKey(fk ForeignKey[C]) TableDefinition[T, C] {
	d.foreignKey = fk
	return d
}

// Table returns the domain key of the table.
func (d TableDefinition[T, C]) Table() T { return d.table }

// ID returns the identifier column, or nil if none was configured.
func (d TableDefinition[T, C]) ID() AnalyticColumn[C] { return d.id }

// ForeignKey returns the foreign-key column, or nil if none was configured.
func (d TableDefinition[T, C]) ForeignKey() AnalyticColumn[C] { return d.foreignKey }

// Columns returns the full column list: regular columns, then the
// identifier, then the foreign key, skipping the ones not configured.
func (d TableDefinition[T, C]) Columns() []AnalyticColumn[C] {
	all := make([]AnalyticColumn[C], 0, len(d.columns)+2)
	all = append(all, d.columns...)
	if d.id != nil {
		all = append(all, d.id)
	}
	if d.foreignKey != nil {
		all = append(all, d.foreignKey)
	}
	return all
}

// node is one arena entry. Only the fields of the node's kind are set.
type node[T, C comparable] struct {
	kind NodeKind
	def  TableDefinition[T, C] // KindTable
	base NodeID                // KindView: the wrapped table node
	parent, child NodeID       // KindJoin: the two operands
}

// StructureBuilder builds the structure of an analytic query: a single
// query plan able to load a whole aggregate in one round trip. The
// structure contains opaque caller keys for tables (T) and columns (C).
//
// There are two kinds of parent/child relationship, tracked separately and
// never conflated:
//
//  1. The relationship on aggregate level: the purchase order is the
//     parent of the line item. This is the plain parent/child relation.
//  2. The relationship inside the query structure built here, where a join
//     combines two nodes and is therefore the structural parent of both.
//     This relation is prefixed with "node": the join is the nodeParent of
//     the purchase order node and the line item node.
//
// Nodes live in an arena addressed by NodeID; the node-parent relation is
// a side table from operand to consuming node. Entries for superseded
// nodes go stale and are never revisited once a node has been replaced by
// a newer join.
//
// A builder serves exactly one aggregate-translation request. It is not
// safe for concurrent use.
type StructureBuilder[T, C comparable] struct {
	nodes      []node[T, C]
	tables     map[T]NodeID      // authoritative table node per domain key
	nodeParent map[NodeID]NodeID // operand -> view/join consuming it
	root       NodeID
}

// NewStructureBuilder returns an empty builder.
func NewStructureBuilder[T, C comparable]() *StructureBuilder[T, C] {
	return &StructureBuilder[T, C]{
		tables:     make(map[T]NodeID),
		nodeParent: make(map[NodeID]NodeID),
		root:       noNode,
	}
}

// AddTable registers the aggregate root and makes it the tree root. It
// must be the first call on a fresh builder; every further table goes
// through AddChildTo. The returned Select is the new root.
func (b *StructureBuilder[T, C]) AddTable(table T, configure func(TableDefinition[T, C]) TableDefinition[T, C]) Select[T, C] {
	b.root = b.createTable(table, configure)
	return b.selectFor(b.root)
}

// AddChildTo adds a table owned by parent to the structure and re-roots
// the join tree so the new child is threaded into the correct position
// without disturbing sibling subtrees. The returned Select is the new
// root.
func (b *StructureBuilder[T, C]) AddChildTo(parent, child T, configure func(TableDefinition[T, C]) TableDefinition[T, C]) (Select[T, C], error) {
	nodeParent, err := b.findUltimateNodeParent(parent)
	if err != nil {
		return Select[T, C]{}, err
	}

	chain := b.collectNodeParents(nodeParent)

	newNode := b.newJoin(nodeParent, b.createTable(child, configure))

	b.root = b.replace(newNode, chain)
	return b.selectFor(b.root), nil
}

// Columns returns the full column list of the current root.
func (b *StructureBuilder[T, C]) Columns() []AnalyticColumn[C] {
	return b.selectFor(b.root).Columns()
}

// ID returns the identifier column of the current root.
func (b *StructureBuilder[T, C]) ID() AnalyticColumn[C] {
	return b.selectFor(b.root).ID()
}

// Root returns the current root of the query structure, i.e. the node
// returned by the last insertion.
func (b *StructureBuilder[T, C]) Root() Select[T, C] {
	return b.selectFor(b.root)
}

func (b *StructureBuilder[T, C]) createTable(table T, configure func(TableDefinition[T, C]) TableDefinition[T, C]) NodeID {
	def := configure(TableDefinition[T, C]{table: table})
	id := b.intern(node[T, C]{kind: KindTable, def: def, base: noNode, parent: noNode, child: noNode})
	b.tables[table] = id
	return id
}

// findUltimateNodeParent returns the node closest to the root of which the
// chain built by following the parent (not the node parent) relationship
// leads to the table registered for the given domain key.
func (b *StructureBuilder[T, C]) findUltimateNodeParent(parent T) (NodeID, error) {
	id, ok := b.tables[parent]
	if !ok {
		return noNode, fmt.Errorf("%w: %v", ErrNoNodeParent, parent)
	}
	if b.nodes[id].def.table != parent {
		return noNode, fmt.Errorf("%w: %v", ErrParentMismatch, parent)
	}
	for {
		np, ok := b.nodeParent[id]
		if !ok || b.parentSide(np) != id {
			// The chain no longer corresponds to a parent-of
			// relationship: id is the child side of np.
			return id, nil
		}
		id = np
	}
}

// collectNodeParents collects the node parents of the given node, starting
// with its direct node parent and going all the way up to the root.
func (b *StructureBuilder[T, C]) collectNodeParents(id NodeID) []NodeID {
	var chain []NodeID
	np, ok := b.nodeParent[id]
	for ok {
		chain = append(chain, np)
		np, ok = b.nodeParent[np]
	}
	return chain
}

// replace rebuilds the ancestor chain above newNode, from the nearest old
// join to the farthest, and returns the new root. For each old join the
// new node either replaces the old join's parent side (when the chain
// continues along the parent relationship) or becomes the child side of a
// fresh join wrapping the unrelated branch.
func (b *StructureBuilder[T, C]) replace(newNode NodeID, chain []NodeID) NodeID {
	prev := noNode
	for _, old := range chain {
		parent := b.parentSide(old)
		if prev == noNode || prev != parent {
			newNode = b.newJoin(parent, newNode)
		} else {
			newNode = b.newJoin(newNode, b.nodes[old].child)
		}
		prev = old
	}
	return newNode
}

// newJoin combines a parent side and a child side node. A parent that is
// itself a lone view is unwrapped back to the underlying table first; a
// child that is a bare table is wrapped in a view. The asymmetry is load
// bearing for replace and must be preserved.
func (b *StructureBuilder[T, C]) newJoin(parent, child NodeID) NodeID {
	if b.nodes[parent].kind == KindView {
		parent = b.nodes[parent].base
	}
	if b.nodes[child].kind == KindTable {
		child = b.newView(child)
	}
	j := b.intern(node[T, C]{kind: KindJoin, base: noNode, parent: parent, child: child})
	b.nodeParent[parent] = j
	b.nodeParent[child] = j
	return j
}

func (b *StructureBuilder[T, C]) newView(table NodeID) NodeID {
	v := b.intern(node[T, C]{kind: KindView, base: table, parent: noNode, child: noNode})
	b.nodeParent[table] = v
	return v
}

// parentSide returns the node the given node treats as its parent: the
// parent operand for joins, the wrapped table for views.
func (b *StructureBuilder[T, C]) parentSide(id NodeID) NodeID {
	switch n := b.nodes[id]; n.kind {
	case KindJoin:
		return n.parent
	case KindView:
		return n.base
	default:
		return noNode
	}
}

func (b *StructureBuilder[T, C]) intern(n node[T, C]) NodeID {
	b.nodes = append(b.nodes, n)
	return NodeID(len(b.nodes) - 1)
}

func (b *StructureBuilder[T, C]) selectFor(id NodeID) Select[T, C] {
	return Select[T, C]{b: b, id: id}
}

// Select is a handle to one query node of a builder. The zero value is
// invalid.
type Select[T, C comparable] struct {
	b  *StructureBuilder[T, C]
	id NodeID
}

// Valid reports whether the handle points at a node.
func (s Select[T, C]) Valid() bool { return s.b != nil && s.id != noNode }

// Kind returns the variant of the node.
func (s Select[T, C]) Kind() NodeKind { return s.b.nodes[s.id].kind }

// Table returns the domain key for table and view nodes.
func (s Select[T, C]) Table() (T, bool) {
	switch n := s.b.nodes[s.id]; n.kind {
	case KindTable:
		return n.def.table, true
	case KindView:
		return s.b.nodes[n.base].def.table, true
	default:
		var zero T
		return zero, false
	}
}

// Definition returns the table definition for table and view nodes.
func (s Select[T, C]) Definition() (TableDefinition[T, C], bool) {
	switch n := s.b.nodes[s.id]; n.kind {
	case KindTable:
		return n.def, true
	case KindView:
		return s.b.nodes[n.base].def, true
	default:
		return TableDefinition[T, C]{}, false
	}
}

// Columns returns the full column list of the node. Joins produce a
// derived column for every column on both sides, parent side first.
func (s Select[T, C]) Columns() []AnalyticColumn[C] {
	switch n := s.b.nodes[s.id]; n.kind {
	case KindTable:
		return n.def.Columns()
	case KindView:
		return s.b.selectFor(n.base).Columns()
	case KindJoin:
		parent := s.b.selectFor(n.parent).Columns()
		child := s.b.selectFor(n.child).Columns()
		all := make([]AnalyticColumn[C], 0, len(parent)+len(child))
		for _, c := range parent {
			all = append(all, DerivedColumn[C]{Column: c})
		}
		for _, c := range child {
			all = append(all, DerivedColumn[C]{Column: c})
		}
		return all
	default:
		return nil
	}
}

// ID returns the identifier column of the node. A join does not introduce
// a new identity; it derives the identifier of its parent side.
func (s Select[T, C]) ID() AnalyticColumn[C] {
	switch n := s.b.nodes[s.id]; n.kind {
	case KindTable:
		return n.def.id
	case KindView:
		return s.b.selectFor(n.base).ID()
	case KindJoin:
		id := s.b.selectFor(n.parent).ID()
		if id == nil {
			return nil
		}
		return DerivedColumn[C]{Column: id}
	default:
		return nil
	}
}

// Froms returns the nodes this node selects from: empty for a table, the
// wrapped table for a view, the parent and child side for a join.
func (s Select[T, C]) Froms() []Select[T, C] {
	switch n := s.b.nodes[s.id]; n.kind {
	case KindView:
		return []Select[T, C]{s.b.selectFor(n.base)}
	case KindJoin:
		return []Select[T, C]{s.b.selectFor(n.parent), s.b.selectFor(n.child)}
	default:
		return nil
	}
}

// String renders the node for debugging.
func (s Select[T, C]) String() string {
	if !s.Valid() {
		return "<nil>"
	}
	switch n := s.b.nodes[s.id]; n.kind {
	case KindTable:
		return fmt.Sprintf("TD{%v}", n.def.table)
	case KindView:
		return fmt.Sprintf("AV{%v}", s.b.selectFor(n.base))
	case KindJoin:
		return fmt.Sprintf("AJ{p=%v, c=%v}", s.b.selectFor(n.parent), s.b.selectFor(n.child))
	default:
		return fmt.Sprintf("Select(%d)", s.id)
	}
}
