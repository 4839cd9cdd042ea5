package blockchain

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tonkeeper/tongo"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

const (
	MintCollectionOpCode uint32 = 0x13370020
	MintTicketOpCode     uint32 = 0x13370021
	MintPrizeOpCode      uint32 = 0x13370022

	// DefaultMintAmount is attached to every relayed mint to cover forwarding fees.
	DefaultMintAmount = 50_000_000
)

// MintMessage instructs the relay contract to mint one unit of Asset to Owner.
type MintMessage struct {
	OpCode   uint32
	QueryID  uint64
	Asset    [32]byte
	Owner    ton.AccountID
	Index    uint64
	Metadata *Metadata
}

// Metadata describes a minted unit. Creator is the issuance authority listed as the
// verified creator; MaxSupply zero makes the unit a one-of-one edition.
type Metadata struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creator              [32]byte
	CreatorShare         uint8
	Mutable              bool
	Collection           bool
	MaxSupply            uint64
}

func writeString(cell *boc.Cell, s string) error {
	if len(s) > 0xff {
		return fmt.Errorf("string %q longer than 255 bytes", s)
	}
	if err := cell.WriteUint(uint64(len(s)), 8); err != nil {
		return err
	}
	return cell.WriteBytes([]byte(s))
}

func readString(cell *boc.Cell) (string, error) {
	length, err := cell.ReadUint(8)
	if err != nil {
		return "", err
	}
	raw, err := cell.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Cell lays the metadata out as name and symbol in the root cell, with the uri,
// creator and edition details in a single reference.
func (m Metadata) Cell() (*boc.Cell, error) {
	cell := boc.NewCell()
	if err := writeString(cell, m.Name); err != nil {
		return nil, err
	}
	if err := writeString(cell, m.Symbol); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(uint64(m.SellerFeeBasisPoints), 16); err != nil {
		return nil, err
	}
	if err := cell.WriteBit(m.Mutable); err != nil {
		return nil, err
	}
	if err := cell.WriteBit(m.Collection); err != nil {
		return nil, err
	}

	details := boc.NewCell()
	if err := writeString(details, m.URI); err != nil {
		return nil, err
	}
	if err := details.WriteBytes(m.Creator[:]); err != nil {
		return nil, err
	}
	if err := details.WriteUint(uint64(m.CreatorShare), 8); err != nil {
		return nil, err
	}
	if err := details.WriteUint(m.MaxSupply, 64); err != nil {
		return nil, err
	}

	if err := cell.AddRef(details); err != nil {
		return nil, err
	}
	return cell, nil
}

func ParseMetadata(cell *boc.Cell) (Metadata, error) {
	var m Metadata
	var err error

	if m.Name, err = readString(cell); err != nil {
		return m, err
	}
	if m.Symbol, err = readString(cell); err != nil {
		return m, err
	}
	fee, err := cell.ReadUint(16)
	if err != nil {
		return m, err
	}
	m.SellerFeeBasisPoints = uint16(fee)
	if m.Mutable, err = cell.ReadBit(); err != nil {
		return m, err
	}
	if m.Collection, err = cell.ReadBit(); err != nil {
		return m, err
	}

	details, err := cell.NextRef()
	if err != nil {
		return m, err
	}
	if m.URI, err = readString(details); err != nil {
		return m, err
	}
	creator, err := details.ReadBytes(32)
	if err != nil {
		return m, err
	}
	copy(m.Creator[:], creator)
	share, err := details.ReadUint(8)
	if err != nil {
		return m, err
	}
	m.CreatorShare = uint8(share)
	if m.MaxSupply, err = details.ReadUint(64); err != nil {
		return m, err
	}
	return m, nil
}

// Body encodes the message: op code, query id, asset address, owner, index and an
// optional metadata reference.
func (m MintMessage) Body() (*boc.Cell, error) {
	cell := boc.NewCell()

	if err := cell.WriteUint(uint64(m.OpCode), 32); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(m.QueryID, 64); err != nil {
		return nil, err
	}
	if err := cell.WriteBytes(m.Asset[:]); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, m.Owner.ToMsgAddress()); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(m.Index, 64); err != nil {
		return nil, err
	}
	if err := cell.WriteBit(m.Metadata != nil); err != nil {
		return nil, err
	}

	if m.Metadata != nil {
		metadata, err := m.Metadata.Cell()
		if err != nil {
			return nil, err
		}
		if err := cell.AddRef(metadata); err != nil {
			return nil, err
		}
	}

	return cell, nil
}

func ParseMintMessage(cell *boc.Cell) (MintMessage, error) {
	var m MintMessage

	opCode, err := cell.ReadUint(32)
	if err != nil {
		return m, err
	}
	m.OpCode = uint32(opCode)
	if m.QueryID, err = cell.ReadUint(64); err != nil {
		return m, err
	}
	asset, err := cell.ReadBytes(32)
	if err != nil {
		return m, err
	}
	copy(m.Asset[:], asset)

	var owner tlb.MsgAddress
	if err := tlb.Unmarshal(cell, &owner); err != nil {
		return m, err
	}
	ownerID, err := tongo.AccountIDFromTlb(owner)
	if err != nil {
		return m, err
	}
	if ownerID == nil {
		return m, errors.New("mint message: owner address is empty")
	}
	m.Owner = *ownerID

	if m.Index, err = cell.ReadUint(64); err != nil {
		return m, err
	}
	hasMetadata, err := cell.ReadBit()
	if err != nil {
		return m, err
	}
	if hasMetadata {
		ref, err := cell.NextRef()
		if err != nil {
			return m, err
		}
		metadata, err := ParseMetadata(ref)
		if err != nil {
			return m, err
		}
		m.Metadata = &metadata
	}
	return m, nil
}

// EncodeHex serializes a cell into a hex BOC, the form tonapi hands cells around in.
func EncodeHex(cell *boc.Cell) (string, error) {
	raw, err := cell.ToBoc()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func DecodeHex(s string) (*boc.Cell, error) {
	cells, err := boc.DeserializeBocHex(s)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, errors.New("boc contains no cells")
	}
	return cells[0], nil
}
