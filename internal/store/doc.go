// Package store holds the pieces shared by every backing medium: the common
// error taxonomy, the DBTX abstraction over *sql.DB and *sql.Tx, and the
// RunInTransaction helper.
package store
