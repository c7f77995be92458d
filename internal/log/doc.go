// Package log provides structured logging for the coordinator using
// zerolog, in the same shape as the teacher's logging package: a global
// logger initialized once via Init, and WithX helpers that return child
// loggers carrying a field.
package log
