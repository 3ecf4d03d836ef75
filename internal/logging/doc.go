// Package logging builds the service's structured slog logger from the
// logging section of the configuration. File outputs are rotated with
// lumberjack.
package logging
