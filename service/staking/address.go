package staking

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// UserPoolAddress returns the owner's pool account, created with seed
// UserPoolSeed and owned by programID.
func UserPoolAddress(owner, programID solana.PublicKey) (solana.PublicKey, error) {
	addr, err := solana.CreateWithSeed(owner, UserPoolSeed, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive user pool address: %w", err)
	}
	return addr, nil
}

// GlobalAuthorityAddress returns the program's global authority PDA and its bump.
func GlobalAuthorityAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte(GlobalAuthoritySeed)}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive global authority: %w", err)
	}
	return addr, bump, nil
}

// MetadataAddress returns the Metaplex metadata account for mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte(metadataSeed),
			MetaplexProgramID[:],
			mint[:],
		},
		MetaplexProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive metadata address: %w", err)
	}
	return addr, nil
}

// AssociatedTokenAddress returns the associated token account of owner for mint.
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// Addresses groups every account an owner/mint pair touches.
type Addresses struct {
	Owner            solana.PublicKey  `json:"owner"`
	UserPool         solana.PublicKey  `json:"user_pool"`
	GlobalAuthority  solana.PublicKey  `json:"global_authority"`
	GlobalBump       uint8             `json:"global_bump"`
	Mint             *solana.PublicKey `json:"mint,omitempty"`
	Metadata         *solana.PublicKey `json:"metadata,omitempty"`
	UserTokenAccount *solana.PublicKey `json:"user_token_account,omitempty"`
	DestTokenAccount *solana.PublicKey `json:"dest_token_account,omitempty"`
}

// DeriveAddresses computes all addresses for owner and, when mint is non-nil,
// the mint-specific token and metadata accounts.
func DeriveAddresses(programID, owner solana.PublicKey, mint *solana.PublicKey) (*Addresses, error) {
	pool, err := UserPoolAddress(owner, programID)
	if err != nil {
		return nil, err
	}
	authority, bump, err := GlobalAuthorityAddress(programID)
	if err != nil {
		return nil, err
	}

	out := &Addresses{
		Owner:           owner,
		UserPool:        pool,
		GlobalAuthority: authority,
		GlobalBump:      bump,
	}
	if mint == nil {
		return out, nil
	}

	m := *mint
	metadata, err := MetadataAddress(m)
	if err != nil {
		return nil, err
	}
	userATA, err := AssociatedTokenAddress(owner, m)
	if err != nil {
		return nil, err
	}
	destATA, err := AssociatedTokenAddress(authority, m)
	if err != nil {
		return nil, err
	}
	out.Mint = &m
	out.Metadata = &metadata
	out.UserTokenAccount = &userATA
	out.DestTokenAccount = &destATA
	return out, nil
}
