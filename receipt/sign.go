package receipt

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/c360studio/semgen/semerr"
)

const signatureAlgorithm = "ed25519"

// Sign attaches an ed25519 signature over the receipt body. The body
// excludes the signature field itself, so signing is idempotent with
// respect to re-signing.
func Sign(r *Receipt, key ed25519.PrivateKey) error {
	body, err := r.signingBody()
	if err != nil {
		return semerr.Wrap(semerr.KindIO, "RECEIPT_SIGN", err)
	}
	sig := ed25519.Sign(key, body)
	pub := key.Public().(ed25519.PublicKey)
	r.Signature = &Signature{
		Algorithm: signatureAlgorithm,
		PublicKey: hex.EncodeToString(pub),
		Value:     hex.EncodeToString(sig),
	}
	return nil
}

// ParsePublicKey decodes a hex-encoded ed25519 public key, as printed
// in a receipt's signature block.
func ParsePublicKey(hexKey string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("malformed public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// VerifySignature checks the attached signature. When trusted is
// non-nil it must match the embedded public key; otherwise the
// embedded key is used as-is.
func VerifySignature(r *Receipt, trusted ed25519.PublicKey) error {
	if r.Signature == nil {
		return fmt.Errorf("receipt is unsigned")
	}
	if r.Signature.Algorithm != signatureAlgorithm {
		return fmt.Errorf("unsupported signature algorithm %q", r.Signature.Algorithm)
	}

	pubBytes, err := hex.DecodeString(r.Signature.PublicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("malformed public key")
	}
	pub := ed25519.PublicKey(pubBytes)
	if trusted != nil && !pub.Equal(trusted) {
		return fmt.Errorf("embedded public key does not match the trusted key")
	}

	sig, err := hex.DecodeString(r.Signature.Value)
	if err != nil {
		return fmt.Errorf("malformed signature")
	}
	body, err := r.signingBody()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, body, sig) {
		return fmt.Errorf("signature does not match receipt body")
	}
	return nil
}
