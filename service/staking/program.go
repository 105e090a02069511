package staking

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the address of the deployed staking program.
var DefaultProgramID = solana.MustPublicKeyFromBase58("8QEYpGm6kZFnY8MhPjgJKzwQqRgU3yihYgGr7o2iQQo6")

// MetaplexProgramID is the Metaplex token metadata program.
var MetaplexProgramID = solana.TokenMetadataProgramID

const (
	// UserPoolSize is the on-chain size of a UserPool account in bytes.
	UserPoolSize = 2056

	// UserPoolSeed is the seed used with CreateWithSeed to derive a user's pool.
	UserPoolSeed = "user-fixed-pool"

	// GlobalAuthoritySeed is the PDA seed for the program's global authority.
	GlobalAuthoritySeed = "global-authority"

	metadataSeed = "metadata"

	// MaxStakedItems is the fixed capacity of a UserPool.
	MaxStakedItems = 50
)

// Instruction names as declared by the program.
const (
	InstructionInitializeFixedPool  = "initializeFixedPool"
	InstructionStakeNftToFixed      = "stakeNftToFixed"
	InstructionWithdrawNftFromFixed = "withdrawNftFromFixed"
)

// Action identifies a user-facing staking operation.
type Action string

const (
	ActionInit     Action = "init"
	ActionStake    Action = "stake"
	ActionWithdraw Action = "withdraw"
)

// ParseAction validates a string as an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionInit, ActionStake, ActionWithdraw:
		return Action(s), nil
	}
	return "", ErrUnknownAction
}

var (
	initializeFixedPoolDiscriminator  = bin.SighashInstruction(InstructionInitializeFixedPool)
	stakeNftToFixedDiscriminator      = bin.SighashInstruction(InstructionStakeNftToFixed)
	withdrawNftFromFixedDiscriminator = bin.SighashInstruction(InstructionWithdrawNftFromFixed)

	userPoolDiscriminator = bin.SighashAccount("UserPool")
)
