//go:build !(sqlite_vec && cgo)

package store

const vecCompiled = false
