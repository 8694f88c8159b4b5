package models

// NamedRef pairs an identifier with its display name for batched lookups.
type NamedRef struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
