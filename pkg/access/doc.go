/*
Package access implements the three-mode key schedule and share-token
encoding described in spec.md §4.4:

	write_key (random 32 bytes)
	   |
	   v  KDF_r (BLAKE3, domain-separated)
	read_key
	   |
	   v  H (BLAKE3 content hash)
	blind_id

Each arrow is one-way: holding read_key never recovers write_key, and
holding blind_id never recovers read_key. A Mode value records which of
the three a particular opened repository actually holds, and any
operation that needs a stronger mode than is held fails with
ErrPermissionDenied rather than silently degrading.

A Token is the compact, optionally passphrase-protected bundle one user
hands another to grant some mode of access to a repository. Importing a
token derives every weaker mode locally; it never talks to a server.
*/
package access
