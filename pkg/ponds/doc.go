// Package ponds is the pond synchronization engine.
//
// A pond is one FarmBot point plus the sequences derived for it from the
// template point's sequences. Manager creates, updates and deletes ponds;
// AggregateReconciler keeps the aggregate sequence's inclusion steps in line
// with each pond's include flag; Sweeper periodically creates any derived
// sequence a pond is missing.
//
// The FarmBot API has no transactions, so every multi-step operation can
// stop halfway. Each step is written to be safe to repeat: Create resumes a
// pond whose point exists but whose sequences are incomplete, Delete treats
// already-deleted resources as done, and Sweep only creates what is absent.
//
// Create's duplicate check and Sweep's existence check are plain reads
// followed by writes. A Create racing a Sweep on the same pond can issue the
// same sequence create twice; the remote API usually rejects the duplicate
// name and the loser reports a remote error.
package ponds
