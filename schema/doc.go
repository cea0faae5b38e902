// Package schema discovers the relational mapping of aggregate types by
// reflection.
//
// An aggregate is a root struct plus the structs transitively owned
// through its slice fields. The MappingContext maps every entity type in
// the aggregate onto a table: scalar fields become columns, the ID field
// (or a field tagged relorm:"id") becomes the identifier, and slice-of-
// struct fields become owned child collections carrying a foreign key to
// the owner.
//
// Names are derived by the NamingStrategy (snake_case columns,
// pluralized tables) and overridden with struct tags:
//
//	type Order struct {
//	    ID        int64     `db:"order_id"`
//	    Name      string
//	    CreatedAt time.Time
//	    Items     []LineItem `relorm:"fk=order_ref"`
//	    internal  string     // unexported, ignored
//	    Secret    string     `db:"-"`
//	}
package schema
