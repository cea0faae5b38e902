// Package fixture holds entity structs the generator tests load.
package fixture

import "time"

type Order struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	Internal  string    `db:"-"`
	Items     []LineItem
}

type LineItem struct {
	Key int64 `db:"id" relorm:"id"`
	Qty int   `db:"qty"`
}
