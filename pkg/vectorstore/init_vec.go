//go:build sqlite_vec && cgo

package vectorstore

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers sqlite-vec as an auto-loaded extension for mattn/go-sqlite3,
	// which makes vec_distance_cosine available on every connection.
	vec.Auto()
}
