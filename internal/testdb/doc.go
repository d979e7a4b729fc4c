// Package testdb provides helpers for tests that run against a real
// PostgreSQL database.
//
// Tests obtain a migrated connection with GetTestDBWithT, which skips the test
// when no database URL is configured. Every test should work under its own
// queue name from UniqueQueueName so runs can share one database without
// seeing each other's rows:
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    queue := testdb.UniqueQueueName(t, db)
//	    medium, err := postgres.NewMedium[payload](db, queue, nil)
//	    require.NoError(t, err)
//	    ...
//	}
//
// The package reads DATABASE_URL first and falls back to DTQ_TEST_DB_URL.
package testdb
