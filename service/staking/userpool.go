package staking

import (
	"bytes"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// StakedNFT is one slot of a UserPool.
type StakedNFT struct {
	NftAddr   solana.PublicKey
	StakeTime int64
}

// UserPool mirrors the program's UserPool account, without the discriminator.
type UserPool struct {
	Owner     solana.PublicKey
	ItemCount uint64
	XPGained  uint64
	Items     [MaxStakedItems]StakedNFT
}

// StakedItems returns the occupied slots.
func (p *UserPool) StakedItems() []StakedNFT {
	n := p.ItemCount
	if n > MaxStakedItems {
		n = MaxStakedItems
	}
	out := make([]StakedNFT, n)
	copy(out, p.Items[:n])
	return out
}

// DecodeUserPool decodes raw account data, checking the account discriminator.
func DecodeUserPool(data []byte) (*UserPool, error) {
	if len(data) < len(userPoolDiscriminator) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidUserPool, len(data))
	}
	if !bytes.Equal(data[:len(userPoolDiscriminator)], userPoolDiscriminator) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidUserPool)
	}

	var pool UserPool
	if err := bin.NewBorshDecoder(data[len(userPoolDiscriminator):]).Decode(&pool); err != nil {
		return nil, fmt.Errorf("failed to decode user pool: %w", err)
	}
	return &pool, nil
}

// EncodeUserPool produces account data for pool, discriminator included.
func EncodeUserPool(pool *UserPool) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(userPoolDiscriminator, false); err != nil {
		return nil, err
	}
	if err := enc.Encode(pool); err != nil {
		return nil, fmt.Errorf("failed to encode user pool: %w", err)
	}
	return buf.Bytes(), nil
}

// UserPoolView is the JSON form of a UserPool returned by the API.
type UserPoolView struct {
	Address   string          `json:"address"`
	Owner     string          `json:"owner"`
	ItemCount uint64          `json:"item_count"`
	XPGained  uint64          `json:"xp_gained"`
	Items     []StakedNFTView `json:"items"`
}

// StakedNFTView is the JSON form of a StakedNFT.
type StakedNFTView struct {
	NftAddr   string    `json:"nft_addr"`
	StakeTime time.Time `json:"stake_time"`
}

// View converts a decoded pool into its JSON form.
func (p *UserPool) View(address solana.PublicKey) UserPoolView {
	items := p.StakedItems()
	views := make([]StakedNFTView, len(items))
	for i, item := range items {
		views[i] = StakedNFTView{
			NftAddr:   item.NftAddr.String(),
			StakeTime: time.Unix(item.StakeTime, 0).UTC(),
		}
	}
	return UserPoolView{
		Address:   address.String(),
		Owner:     p.Owner.String(),
		ItemCount: p.ItemCount,
		XPGained:  p.XPGained,
		Items:     views,
	}
}
