// Package assignment holds the tracker to event mapping that scopes
// event-level reads. Writes go to the store first and the in-memory copy is
// reloaded only after the store commits; a failed write returns an error and
// leaves the mapping as it was.
package assignment
