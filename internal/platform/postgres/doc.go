// Package postgres provides the PostgreSQL backing medium for task
// repositories, the embedded goose migrations for its schema, and the mapping
// from driver errors to the store error taxonomy.
package postgres
