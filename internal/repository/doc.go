// Package repository implements a key/value store with deferred writes. Items
// are loaded lazily from a pluggable Medium on first access, every mutation is
// classified as new, updated or deleted relative to the last flush, and Save
// hands the full snapshot together with that diff to the medium in one call.
package repository
