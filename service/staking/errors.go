package staking

import "errors"

var (
	// ErrWalletNotConnected is returned when a wallet is nil or has no public key.
	ErrWalletNotConnected = errors.New("wallet not connected")

	// ErrUserPoolNotFound is returned when the owner's pool account does not exist on chain.
	ErrUserPoolNotFound = errors.New("user pool not found")

	// ErrInvalidUserPool is returned when account data is not a UserPool.
	ErrInvalidUserPool = errors.New("account data is not a user pool")

	// ErrUnknownAction is returned for an action other than init, stake or withdraw.
	ErrUnknownAction = errors.New("unknown staking action")

	// ErrMintRequired is returned when stake or withdraw is requested without a mint.
	ErrMintRequired = errors.New("mint is required")

	// ErrSigningRejected wraps failures reported by the wallet while signing.
	ErrSigningRejected = errors.New("wallet rejected signing")
)
