/*
Package storage provides BoltDB-backed persistence for event API keys and
tracker assignments.

The storage package implements the Store interface on top of bbolt. Every
write is a single Update transaction, committed and fsynced before the call
returns, so a caller that gets a nil error can rely on the data surviving a
restart. Reads never mutate anything.

# Layout

	┌──────────────── <dataDir>/beacon.db ────────────────┐
	│                                                      │
	│  api_keys      8-byte big-endian sequence -> JSON    │
	│                EventAPIKey record                    │
	│                                                      │
	│  assignments   tracker id -> event name              │
	│                                                      │
	└──────────────────────────────────────────────────────┘

Sequence keys make a bucket scan return keys in issuance order, which is the
order the admin listing shows.

# Single active key

IssueAPIKey scans the api_keys bucket and flips every valid key of the same
event to invalid inside the same transaction that appends the new record.
Either all of it is committed or none of it is, so the file never holds two
valid keys for one event.

# Sealing

When Options.Secrets is set, the secret field of each key record is sealed
with AES-256-GCM before it is written and opened again on read:

	store, err := storage.NewBoltStore("/var/lib/beacon", storage.Options{
		Secrets: secretsManager,
	})

Records written without sealing stay readable after sealing is turned on.
A sealed record read without a SecretsManager is an error.

# Empty store

A missing file is created together with both buckets, so the first run sees
empty collections rather than an error.
*/
package storage
