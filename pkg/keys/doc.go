/*
Package keys implements the event credential authority.

Each event has at most one valid API key. Issue generates a 128-bit random
secret and asks the store to append it and invalidate the event's earlier
valid keys in one transaction, while holding the authority's write lock, so
concurrent issuance for the same event cannot leave two valid keys. Keys
are never deleted; invalid keys stay in List for audit.

The authority keeps the full key set in memory. The cache is reloaded from
the store after every successful write and is left untouched when a write
fails, so a failed write is never visible to Verify.

	authority, _ := keys.NewAuthority(keys.Config{Store: store})
	key, _ := authority.Issue("race")
	authority.Verify("race", key.Secret) // true
*/
package keys
