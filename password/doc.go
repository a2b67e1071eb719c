// Package password hashes and verifies portal account passwords with
// Argon2id.
//
// Hashes are stored as PHC strings:
//
//	$argon2id$v=19$m=<memory KiB>,t=<passes>,p=<lanes>$<salt>$<key>
//
// Parameters travel with each hash, so raising the cost only affects new
// hashes. [Argon2.NeedsRehash] flags stored hashes that fall behind the
// current parameters; sign-in re-hashes them while it still holds the
// plaintext.
//
// This package never stores passwords and never logs them.
package password
