// Package ciutil detects whether code runs under a CI provider and reads
// environment variables that have legacy fallbacks.
package ciutil
