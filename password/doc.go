// Package password verifies Argon2id credential hashes in PHC string form.
// Verification recomputes the hash under the parameters embedded in the
// stored string, so parameter upgrades roll out per user without breaking
// older hashes. A malformed stored hash verifies as false; it never panics
// and never reveals which part of the string was wrong.
package password
