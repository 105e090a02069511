package staking

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
)

// CreateUserPoolAccountInstruction allocates the owner's pool account with
// CreateAccountWithSeed, funded and based on the owner.
func CreateUserPoolAccountInstruction(owner, userPool, programID solana.PublicKey, lamports uint64) (solana.Instruction, error) {
	ix, err := system.NewCreateAccountWithSeedInstruction(
		owner,
		UserPoolSeed,
		lamports,
		UserPoolSize,
		programID,
		owner,
		userPool,
		owner,
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build create account instruction: %w", err)
	}
	return ix, nil
}

// InitializeFixedPoolAccounts are the accounts for initializeFixedPool.
type InitializeFixedPoolAccounts struct {
	UserFixedPool solana.PublicKey
	Owner         solana.PublicKey
}

// NewInitializeFixedPoolInstruction builds initializeFixedPool.
func NewInitializeFixedPoolInstruction(programID solana.PublicKey, accounts InitializeFixedPoolAccounts) (solana.Instruction, error) {
	data, err := encodeInstructionData(initializeFixedPoolDiscriminator)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		programID,
		solana.AccountMetaSlice{
			solana.Meta(accounts.UserFixedPool).WRITE(),
			solana.Meta(accounts.Owner).SIGNER(),
		},
		data,
	), nil
}

// StakeNftToFixedAccounts are the accounts for stakeNftToFixed.
type StakeNftToFixedAccounts struct {
	Owner            solana.PublicKey
	UserFixedPool    solana.PublicKey
	GlobalAuthority  solana.PublicKey
	UserTokenAccount solana.PublicKey
	DestTokenAccount solana.PublicKey
	NftMint          solana.PublicKey
	MintMetadata     solana.PublicKey
}

// NewStakeNftToFixedInstruction builds stakeNftToFixed.
func NewStakeNftToFixedInstruction(programID solana.PublicKey, accounts StakeNftToFixedAccounts) (solana.Instruction, error) {
	data, err := encodeInstructionData(stakeNftToFixedDiscriminator)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		programID,
		solana.AccountMetaSlice{
			solana.Meta(accounts.Owner).WRITE().SIGNER(),
			solana.Meta(accounts.UserFixedPool).WRITE(),
			solana.Meta(accounts.GlobalAuthority),
			solana.Meta(accounts.UserTokenAccount).WRITE(),
			solana.Meta(accounts.DestTokenAccount).WRITE(),
			solana.Meta(accounts.NftMint),
			solana.Meta(accounts.MintMetadata),
			solana.Meta(solana.TokenProgramID),
			solana.Meta(MetaplexProgramID),
		},
		data,
	), nil
}

// WithdrawNftFromFixedAccounts are the accounts for withdrawNftFromFixed.
type WithdrawNftFromFixedAccounts struct {
	Owner            solana.PublicKey
	UserFixedPool    solana.PublicKey
	GlobalAuthority  solana.PublicKey
	UserTokenAccount solana.PublicKey
	DestTokenAccount solana.PublicKey
	NftMint          solana.PublicKey
}

// NewWithdrawNftFromFixedInstruction builds withdrawNftFromFixed(global_bump).
func NewWithdrawNftFromFixedInstruction(programID solana.PublicKey, globalBump uint8, accounts WithdrawNftFromFixedAccounts) (solana.Instruction, error) {
	data, err := encodeInstructionData(withdrawNftFromFixedDiscriminator, globalBump)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(
		programID,
		solana.AccountMetaSlice{
			solana.Meta(accounts.Owner).WRITE().SIGNER(),
			solana.Meta(accounts.UserFixedPool).WRITE(),
			solana.Meta(accounts.GlobalAuthority),
			solana.Meta(accounts.UserTokenAccount).WRITE(),
			solana.Meta(accounts.DestTokenAccount).WRITE(),
			solana.Meta(accounts.NftMint),
			solana.Meta(solana.TokenProgramID),
		},
		data,
	), nil
}

// NewCreateAssociatedTokenAccountInstruction creates ATA(wallet, mint) paid by payer.
func NewCreateAssociatedTokenAccountInstruction(payer, wallet, mint solana.PublicKey) solana.Instruction {
	return associatedtokenaccount.NewCreateInstruction(payer, wallet, mint).Build()
}

// encodeInstructionData writes the 8-byte discriminator followed by the
// borsh-encoded arguments.
func encodeInstructionData(discriminator []byte, args ...interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(discriminator, false); err != nil {
		return nil, fmt.Errorf("failed to write discriminator: %w", err)
	}
	for _, arg := range args {
		if err := enc.Encode(arg); err != nil {
			return nil, fmt.Errorf("failed to encode instruction argument: %w", err)
		}
	}
	return buf.Bytes(), nil
}
