// Package log provides structured logging for the testbed built on zerolog.
//
// A single global logger is configured once via Init; packages derive child
// loggers carrying component and host fields from it.
package log
