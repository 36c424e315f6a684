//go:build !sqlite_vec || !cgo

package knowledge

// Without the sqlite_vec build the vec_distance_cosine function is not
// registered, so LocalStore sticks to keyword search.
const vecSearchEnabled = false
