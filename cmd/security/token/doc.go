// Package token generates opaque refresh tokens and hashes them for storage.
//
// Plaintext tokens are base64url (no padding) over 32..64 random bytes and are
// only ever handed to the client. The server keeps a deterministic 64-char hex
// digest used as a lookup key: SHA-256 by default, HMAC-SHA256 when a key is
// configured. The token's own entropy stands in for a salt.
package token
