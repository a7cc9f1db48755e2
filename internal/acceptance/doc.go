// Package acceptance runs the Gherkin features under features/ against a
// SQLite-backed engine.
package acceptance
