package staking

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet is the signing capability a caller hands to the builder.
// Browser wallets, hardware signers and local keypairs all fit behind it.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
}

const ed25519PrivateKeySize = 64

// KeypairWallet signs with an in-memory private key.
type KeypairWallet struct {
	key solana.PrivateKey
}

// NewKeypairWallet returns a wallet for key.
func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key}
}

// LoadKeypairWallet reads a solana-keygen JSON keypair file.
func LoadKeypairWallet(path string) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewKeypairWallet(key), nil
}

// PublicKey returns the zero key for a nil or empty wallet, which callers
// treat as not connected.
func (w *KeypairWallet) PublicKey() solana.PublicKey {
	if w == nil || len(w.key) != ed25519PrivateKeySize {
		return solana.PublicKey{}
	}
	return w.key.PublicKey()
}

// SignTransaction signs tx in place and returns it. It fails if tx needs a
// signer other than this wallet.
func (w *KeypairWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pub := w.PublicKey()
	if pub.IsZero() {
		return nil, ErrWalletNotConnected
	}
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}
