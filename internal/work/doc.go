// Package work runs background units of work (training and insight refreshes per hotel)
// one at a time, honouring per-subject intervals, dependencies between work types and a
// bounded retry queue. The processor is woken by Trigger and never polls on its own; the
// scheduler package provides the periodic wake-ups.
package work
