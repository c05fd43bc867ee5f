package token

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/crypto/ed25519"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// SignatureHeader carries the base64 ed25519 signature of a callback body.
const SignatureHeader = "X-Token-Signature"

// Signer signs callback bodies. Keys are identified by their checksummed address and
// exchanged as 25 word mnemonics.
type Signer struct {
	address string
	key     ed25519.PrivateKey
}

func NewSignerFromMnemonic(phrase string) (*Signer, error) {
	key, err := mnemonic.ToPrivateKey(phrase)
	if err != nil {
		return nil, fmt.Errorf("invalid signing mnemonic: %w", err)
	}
	account, err := crypto.AccountFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return &Signer{address: account.Address.String(), key: key}, nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() *Signer {
	account := crypto.GenerateAccount()
	return &Signer{address: account.Address.String(), key: account.PrivateKey}
}

func (s *Signer) Address() string {
	return s.address
}

func (s *Signer) Mnemonic() (string, error) {
	return mnemonic.FromPrivateKey(s.key)
}

func (s *Signer) Sign(body []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, body))
}

func (s *Signer) SignRequest(req *http.Request, body []byte) {
	req.Header.Set(SignatureHeader, s.Sign(body))
}

// Verifier checks signatures made by the key behind an address.
type Verifier struct {
	address string
	key     ed25519.PublicKey
}

func NewVerifier(address string) (*Verifier, error) {
	addr, err := types.DecodeAddress(address)
	if err != nil {
		return nil, fmt.Errorf("invalid token service key %q: %w", address, err)
	}
	return &Verifier{address: address, key: ed25519.PublicKey(addr[:])}, nil
}

func (v *Verifier) Address() string {
	return v.address
}

func (v *Verifier) Verify(body []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(v.key, body, sig) {
		return ErrBadSignature
	}
	return nil
}
