package milestone

import "crypto/ed25519"

// Ed25519Verifier is the production Verifier: coordinator keys and milestone
// signatures are raw Ed25519 material, verified with the stdlib primitive.
// The signature scheme itself is explicitly out of scope per spec.md §1 ("the
// ternary/Ed25519 signature scheme itself is treated as opaque") — this type
// exists only so the app has a concrete Verifier to wire the pipeline with,
// not to specify or extend the scheme. There is no third-party Ed25519
// implementation in the retrieval pack (pinecone's router/peer.go imports the
// same crypto/ed25519 stdlib package for identical raw-key verification), so
// there is no library to prefer over the standard one here.
type Ed25519Verifier struct{}

// Verify reports whether signature is a valid Ed25519 signature of signed
// under pubKey. Malformed key or signature lengths are rejected rather than
// panicking, since both arrive off the wire from an untrusted peer.
func (Ed25519Verifier) Verify(pubKey, signed, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), signed, signature)
}
