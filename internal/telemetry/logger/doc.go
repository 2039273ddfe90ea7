// Package logger builds the process slog.Logger.
//
// Output is JSON by default. Attributes whose key names a secret are
// redacted and DSN passwords are masked wherever they appear in a string
// value. All loggers built by New share one level, which SetLevel changes
// at runtime when the configuration is reloaded.
package logger
