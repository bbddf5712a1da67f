//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

const vecCompiled = true

func init() {
	// Registers sqlite-vec as an auto-loaded extension of mattn/go-sqlite3.
	vec.Auto()
}
