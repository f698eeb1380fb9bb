// Package password hashes and verifies user credentials for warden.
//
// New digests are Argon2id in a PHC-like encoded string:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Legacy bcrypt digests ($2a$, $2b$, $2y$) still verify but always report
// NeedsRehash, so they migrate to Argon2id on the next successful login.
//
// Digests are untrusted input during Verify: malformed strings and parameters far
// above the configured cost are rejected without running the KDF.
package password
