// Package reliability keeps the rates database recoverable: archived backups in the model
// blob store and periodic maintenance.
package reliability
