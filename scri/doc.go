// Package scri is the stable contract. Provider wire formats are
// explicitly unstable; every adapter's job is to absorb their drift behind
// these types.
package scri
