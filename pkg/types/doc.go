/*
Package types defines the data shared across Beacon packages: tracker
reports and state, event API keys, assignments, fleet statistics, and the
error taxonomy.

JSON tags follow the formats already used in the field. Reports use the
firmware names (tracker_uid, data, hmac, timestamp) and key records use the
names of the legacy events_apikeys.json file (id, event, apiKey,
generatedAt, valid), so old exports can be imported unchanged.

Errors are sentinels meant to be wrapped with %w and matched with
errors.Is:

	ErrMalformedInput        report or request body has the wrong shape
	ErrStaleTimestamp        claimed time is outside the replay window
	ErrAuthenticationFailed  bad integrity tag or bad credential
	ErrNotFound              unknown key ID or tracker

Conflicts are not modelled; concurrent writers get last-write-wins.
*/
package types
