// Package logger builds the process-wide JSON slog logger from server
// configuration and carries request- and job-scoped loggers through contexts.
package logger
