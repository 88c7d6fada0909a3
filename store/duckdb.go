//go:build duckdb

package store

// Registers the "duckdb" database/sql driver. Requires cgo.
import _ "github.com/marcboeker/go-duckdb"
