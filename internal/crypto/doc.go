// Package crypto provides the primitives the rest of Ouisync builds on:
// content hashing, authenticated block encryption, root/entry signatures,
// the write/read/blind key schedule derived from a random write key, and
// Argon2id passphrase stretching for share-token wrapping keys.
//
//	write_key  (random, secret)
//	   │  KDF_r (unkeyed BLAKE3 over write_key ‖ "ouisync-read-key-v1")
//	   ▼
//	read_key   (lets a peer decrypt blocks and verify roots)
//	   │  H (BLAKE3)
//	   ▼
//	blind_id   (lets a peer relay blocks by hash only)
//
// Knowledge of read_key never reveals write_key; knowledge of blind_id
// reveals neither. That asymmetry is what makes the three access modes in
// pkg/access distinguishable from each other.
package crypto
