/*
Package security holds Beacon's cryptographic gates: the tracker message
authenticator with its replay policy, the admin session authority, the
administrator credential verifier, and at-rest sealing of event key
secrets, and loading of the HTTP listener's TLS certificate.

# Architecture

	┌──────────────────── SECURITY ─────────────────────────────┐
	│                                                            │
	│  Tracker reports            Admin sessions                 │
	│  ┌─────────────────────┐    ┌──────────────────────────┐   │
	│  │ MessageAuthenticator│    │ SessionAuthority          │   │
	│  │ 1. shape            │    │ CredentialVerifier        │   │
	│  │ 2. replay window    │    │   (StaticCredentials)     │   │
	│  │ 3. HMAC-SHA256 tag  │    │ HS256 JWT, 12h expiry     │   │
	│  └─────────────────────┘    │ jti denylist (Revoke)     │   │
	│                             └──────────────────────────┘   │
	│  Event key secrets at rest                                  │
	│  ┌─────────────────────┐                                   │
	│  │ SecretsManager      │  AES-256-GCM, "sealed:" prefix    │
	│  └─────────────────────┘                                   │
	└────────────────────────────────────────────────────────────┘

# Message Authentication

A report passes three gates, in order, and the first failure decides the
verdict:

	RejectedMalformed  tracker_uid missing or outside the fleet pattern,
	                   data not a JSON object, hmac not 64 hex chars,
	                   timestamp missing or unparseable
	RejectedStale      |now - timestamp| greater than the replay window
	RejectedBadTag     HMAC mismatch

The tag is HMAC-SHA256 over the canonical serialization

	{"tracker_uid":"tonw-0007","data":{...},"timestamp":"2025-03-14T09:29:50Z"}

with the fields in exactly that order, no whitespace, and the payload keys
in the order the tracker sent them. The firmware builds the same string with
a plain JSON stringify of those three fields, so any reordering here breaks
every report. Tags are compared with hmac.Equal.

Timestamps may be ISO-8601 strings or epoch milliseconds. The replay window
defaults to 24 hours.

# Admin Sessions

	sessions, _ := security.NewSessionAuthority(security.SessionConfig{
		Verifier:   security.StaticCredentials{Username: "admin", PasswordHash: hash},
		SigningKey: []byte(cfg.Admin.JWTSecret),
	})
	token, claims, err := sessions.Authenticate(user, pass)
	claims, err = sessions.Verify(token)
	sessions.Revoke(claims) // logout

Tokens are stateless. Revocation keeps the token ID in memory until the
token would have expired anyway; CleanupRevoked prunes the list. A restart
clears the denylist.

# Secrets at Rest

With storage.encryption_key set, BoltStore seals each key secret with
SecretsManager before writing it. The AES key is derived from the
passphrase with Argon2id, and each value is bound to its record ID so a
sealed secret copied onto another record does not open. Values without the
"sealed:" prefix are read as plaintext.

# TLS

LoadKeyPair reads the operator's certificate and key files and parses the
leaf. serve warns when CertNeedsRotation reports fewer than 30 days left.
*/
package security
