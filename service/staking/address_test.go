package staking

import (
	"crypto/sha256"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserPoolAddress(t *testing.T) {
	owner := solana.NewWallet().PublicKey()

	first, err := UserPoolAddress(owner, DefaultProgramID)
	require.NoError(t, err)
	second, err := UserPoolAddress(owner, DefaultProgramID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "derivation is deterministic")

	expected, err := solana.CreateWithSeed(owner, "user-fixed-pool", DefaultProgramID)
	require.NoError(t, err)
	assert.Equal(t, expected, first)

	other, err := UserPoolAddress(solana.NewWallet().PublicKey(), DefaultProgramID)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestGlobalAuthorityAddress(t *testing.T) {
	addr, bump, err := GlobalAuthorityAddress(DefaultProgramID)
	require.NoError(t, err)

	again, againBump, err := GlobalAuthorityAddress(DefaultProgramID)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, bump, againBump)

	// The bump reproduces the address with CreateProgramAddress.
	derived, err := solana.CreateProgramAddress([][]byte{[]byte("global-authority"), {bump}}, DefaultProgramID)
	require.NoError(t, err)
	assert.Equal(t, addr, derived)
}

func TestMetadataAddress(t *testing.T) {
	mint := solana.NewWallet().PublicKey()

	addr, err := MetadataAddress(mint)
	require.NoError(t, err)

	expected, _, err := solana.FindTokenMetadataAddress(mint)
	require.NoError(t, err)
	assert.Equal(t, expected, addr)
}

func TestDeriveAddresses(t *testing.T) {
	owner := solana.NewWallet().PublicKey()

	t.Run("without mint", func(t *testing.T) {
		addrs, err := DeriveAddresses(DefaultProgramID, owner, nil)
		require.NoError(t, err)
		assert.Equal(t, owner, addrs.Owner)
		assert.Nil(t, addrs.Mint)
		assert.Nil(t, addrs.Metadata)
		assert.Nil(t, addrs.UserTokenAccount)
		assert.Nil(t, addrs.DestTokenAccount)
	})

	t.Run("with mint", func(t *testing.T) {
		mint := solana.NewWallet().PublicKey()
		addrs, err := DeriveAddresses(DefaultProgramID, owner, &mint)
		require.NoError(t, err)
		require.NotNil(t, addrs.UserTokenAccount)
		require.NotNil(t, addrs.DestTokenAccount)

		userATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		require.NoError(t, err)
		destATA, _, err := solana.FindAssociatedTokenAddress(addrs.GlobalAuthority, mint)
		require.NoError(t, err)
		assert.Equal(t, userATA, *addrs.UserTokenAccount)
		assert.Equal(t, destATA, *addrs.DestTokenAccount)
		assert.Equal(t, mint, *addrs.Mint)
	})
}

func TestInstructionDiscriminators(t *testing.T) {
	sighash := func(preimage string) []byte {
		sum := sha256.Sum256([]byte(preimage))
		return sum[:8]
	}

	assert.Equal(t, sighash("global:initialize_fixed_pool"), initializeFixedPoolDiscriminator)
	assert.Equal(t, sighash("global:stake_nft_to_fixed"), stakeNftToFixedDiscriminator)
	assert.Equal(t, sighash("global:withdraw_nft_from_fixed"), withdrawNftFromFixedDiscriminator)
	assert.Equal(t, sighash("account:UserPool"), userPoolDiscriminator)
}

func TestStakeNftToFixedInstruction_AccountOrder(t *testing.T) {
	accts := StakeNftToFixedAccounts{
		Owner:            solana.NewWallet().PublicKey(),
		UserFixedPool:    solana.NewWallet().PublicKey(),
		GlobalAuthority:  solana.NewWallet().PublicKey(),
		UserTokenAccount: solana.NewWallet().PublicKey(),
		DestTokenAccount: solana.NewWallet().PublicKey(),
		NftMint:          solana.NewWallet().PublicKey(),
		MintMetadata:     solana.NewWallet().PublicKey(),
	}
	ix, err := NewStakeNftToFixedInstruction(DefaultProgramID, accts)
	require.NoError(t, err)
	assert.Equal(t, DefaultProgramID, ix.ProgramID())

	metas := ix.Accounts()
	require.Len(t, metas, 9)
	assert.Equal(t, accts.Owner, metas[0].PublicKey)
	assert.True(t, metas[0].IsSigner)
	assert.True(t, metas[0].IsWritable)
	assert.Equal(t, accts.UserFixedPool, metas[1].PublicKey)
	assert.True(t, metas[1].IsWritable)
	assert.False(t, metas[2].IsWritable, "global authority is read-only")
	assert.Equal(t, solana.TokenProgramID, metas[7].PublicKey)
	assert.Equal(t, MetaplexProgramID, metas[8].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, stakeNftToFixedDiscriminator, data)
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"init", "stake", "withdraw"} {
		a, err := ParseAction(s)
		require.NoError(t, err)
		assert.Equal(t, Action(s), a)
	}
	_, err := ParseAction("unstake")
	assert.ErrorIs(t, err, ErrUnknownAction)
}
