//go:build sqlite_vec && cgo

package knowledge

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// vecSearchEnabled gates the embedding-based search path in LocalStore.
const vecSearchEnabled = true

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver so
	// episode search can rank by vec_distance_cosine.
	vec.Auto()
}
