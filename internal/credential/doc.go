// Package credential stores bridge pairing credentials.
//
// A credential is the access key a bridge hands out during pairing. It is
// recorded once per bridge address and shared by every session against
// that address, so independent clients reuse one pairing instead of each
// pressing the link button again.
package credential
