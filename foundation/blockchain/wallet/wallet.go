// Package wallet owns a validator's secret key exclusively. No other
// package may read the secret key material directly; everything else in
// the node asks the wallet to sign on its behalf.
package wallet

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/diva-exchange/divachain/foundation/blockchain/crypto"
)

const (
	publicFileMode  = 0644
	privateFileMode = 0600
)

// Wallet holds the node's own keypair. The secret key is locked into
// physical memory for its lifetime and zeroed on Close.
type Wallet struct {
	ident   string
	public  ed25519.PublicKey
	private ed25519.PrivateKey
	locked  bool
}

// Load reads "<ident>.public" and "<ident>.private" from dir. Both files
// must already exist; use Generate to create a new identity.
func Load(dir, ident string) (*Wallet, error) {
	pub, err := os.ReadFile(filepath.Join(dir, ident+".public"))
	if err != nil {
		return nil, fmt.Errorf("wallet: read public key: %w", err)
	}
	priv, err := os.ReadFile(filepath.Join(dir, ident+".private"))
	if err != nil {
		return nil, fmt.Errorf("wallet: read private key: %w", err)
	}
	if len(pub) != crypto.PublicKeySize {
		return nil, fmt.Errorf("wallet: public key %q has wrong length %d", ident, len(pub))
	}
	if len(priv) != crypto.PrivateKeySize {
		return nil, fmt.Errorf("wallet: private key %q has wrong length %d", ident, len(priv))
	}

	w := &Wallet{
		ident:   ident,
		public:  ed25519.PublicKey(pub),
		private: ed25519.PrivateKey(priv),
	}
	w.locked = lockMemory(w.private)

	return w, nil
}

// Generate creates a new keypair and persists it as "<ident>.public" /
// "<ident>.private" under dir, following the file modes required by §6.
func Generate(dir, ident string) (*Wallet, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, ident+".public"), kp.Public, publicFileMode); err != nil {
		return nil, fmt.Errorf("wallet: write public key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ident+".private"), kp.Private, privateFileMode); err != nil {
		return nil, fmt.Errorf("wallet: write private key: %w", err)
	}

	w := &Wallet{
		ident:   ident,
		public:  kp.Public,
		private: kp.Private,
	}
	w.locked = lockMemory(w.private)

	return w, nil
}

// PublicKey returns the node's public key.
func (w *Wallet) PublicKey() ed25519.PublicKey {
	return w.public
}

// PublicKeyString returns the base64url wire encoding of the public key.
func (w *Wallet) PublicKeyString() string {
	return crypto.EncodePublicKey(w.public)
}

// Sign produces a detached signature over data using the locked secret key.
func (w *Wallet) Sign(data []byte) []byte {
	return crypto.Sign(w.private, data)
}

// SignString produces the base64url wire encoding of Sign(data).
func (w *Wallet) SignString(data []byte) string {
	return crypto.EncodeSignature(w.Sign(data))
}

// Close zeroes and unlocks the secret key. The wallet must not be used
// after Close returns.
func (w *Wallet) Close() {
	if w.locked {
		unlockMemory(w.private)
	}
	for i := range w.private {
		w.private[i] = 0
	}
}
