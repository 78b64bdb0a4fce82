// Package logx wraps zerolog behind a small structured-logging API whose
// root logger can be swapped at runtime (used by config hot reload).
package logx
