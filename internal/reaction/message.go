package reaction

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"google.golang.org/protobuf/encoding/protowire"
)

// Farcaster protocol constants used by a like reaction message.
const (
	farcasterEpoch = 1609459200

	messageTypeReactionAdd = 3
	reactionTypeLike       = 1
	hashSchemeBlake3       = 1
	signatureSchemeEd25519 = 1

	messageHashLength = 20
)

// Field numbers of the hub message schema.
const (
	dataFieldType         protowire.Number = 1
	dataFieldFID          protowire.Number = 2
	dataFieldTimestamp    protowire.Number = 3
	dataFieldNetwork      protowire.Number = 4
	dataFieldReactionBody protowire.Number = 7

	reactionFieldType       protowire.Number = 1
	reactionFieldTargetCast protowire.Number = 2

	castIDFieldFID  protowire.Number = 1
	castIDFieldHash protowire.Number = 2

	messageFieldData            protowire.Number = 1
	messageFieldHash            protowire.Number = 2
	messageFieldHashScheme      protowire.Number = 3
	messageFieldSignature       protowire.Number = 4
	messageFieldSignatureScheme protowire.Number = 5
	messageFieldSigner          protowire.Number = 6
	messageFieldDataBytes       protowire.Number = 7
)

type LikeMessage struct {
	Data      []byte
	Hash      []byte
	Signature []byte
	Signer    []byte
}

func (m LikeMessage) HashHex() string {
	return "0x" + hex.EncodeToString(m.Hash)
}

func (m LikeMessage) Marshal() []byte {
	var b []byte

	b = protowire.AppendTag(b, messageFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	b = protowire.AppendTag(b, messageFieldHash, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Hash)
	b = protowire.AppendTag(b, messageFieldHashScheme, protowire.VarintType)
	b = protowire.AppendVarint(b, hashSchemeBlake3)
	b = protowire.AppendTag(b, messageFieldSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Signature)
	b = protowire.AppendTag(b, messageFieldSignatureScheme, protowire.VarintType)
	b = protowire.AppendVarint(b, signatureSchemeEd25519)
	b = protowire.AppendTag(b, messageFieldSigner, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Signer)
	b = protowire.AppendTag(b, messageFieldDataBytes, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)

	return b
}

// BuildLike encodes and signs a ReactionAdd(LIKE) message from fid for the
// cast identified by (targetFID, castHash).
func BuildLike(
	key ed25519.PrivateKey,
	fid uint64,
	network uint64,
	targetFID uint64,
	castHash string,
	at time.Time,
) (LikeMessage, error) {
	hashBytes, err := decodeHex(castHash)
	if err != nil {
		return LikeMessage{}, fmt.Errorf("decode cast hash: %w", err)
	}
	if len(hashBytes) == 0 {
		return LikeMessage{}, errors.New("cast hash is empty")
	}

	ts := at.Unix() - farcasterEpoch
	if ts < 0 {
		return LikeMessage{}, fmt.Errorf("timestamp %s precedes Farcaster epoch", at)
	}

	var castID []byte
	castID = protowire.AppendTag(castID, castIDFieldFID, protowire.VarintType)
	castID = protowire.AppendVarint(castID, targetFID)
	castID = protowire.AppendTag(castID, castIDFieldHash, protowire.BytesType)
	castID = protowire.AppendBytes(castID, hashBytes)

	var body []byte
	body = protowire.AppendTag(body, reactionFieldType, protowire.VarintType)
	body = protowire.AppendVarint(body, reactionTypeLike)
	body = protowire.AppendTag(body, reactionFieldTargetCast, protowire.BytesType)
	body = protowire.AppendBytes(body, castID)

	var data []byte
	data = protowire.AppendTag(data, dataFieldType, protowire.VarintType)
	data = protowire.AppendVarint(data, messageTypeReactionAdd)
	data = protowire.AppendTag(data, dataFieldFID, protowire.VarintType)
	data = protowire.AppendVarint(data, fid)
	data = protowire.AppendTag(data, dataFieldTimestamp, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(ts))
	data = protowire.AppendTag(data, dataFieldNetwork, protowire.VarintType)
	data = protowire.AppendVarint(data, network)
	data = protowire.AppendTag(data, dataFieldReactionBody, protowire.BytesType)
	data = protowire.AppendBytes(data, body)

	sum := blake3.Sum256(data)
	hash := sum[:messageHashLength]

	return LikeMessage{
		Data:      data,
		Hash:      hash,
		Signature: ed25519.Sign(key, hash),
		Signer:    key.Public().(ed25519.PublicKey),
	}, nil
}

// ParsePrivateKey accepts a hex encoded Ed25519 seed or full private key,
// with or without a 0x prefix.
func ParsePrivateKey(raw string) (ed25519.PrivateKey, error) {
	b, err := decodeHex(raw)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	default:
		return nil, fmt.Errorf("private key has %d bytes", len(b))
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	return hex.DecodeString(s)
}
