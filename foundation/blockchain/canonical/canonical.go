// Package canonical implements the single deterministic byte-serialization
// used everywhere a hash or signature is computed. It never delegates key
// ordering to a general-purpose JSON library: every encoded shape has an
// explicit, fixed field order written out by hand.
package canonical

import (
	"strconv"
	"strings"
)

// Command mirrors the wire shape of a validator-intent record (§3). Only
// the fields relevant to a given Kind are populated; canonical encoding
// emits exactly the fields that belong to that Kind, in a fixed order.
type Command struct {
	Seq       uint32
	Kind      string
	Host      string
	Port      uint16
	PublicKey string
	Stake     int64
	NS        string
	Base64url string
	Timestamp int64
}

// Command kind tags, used both on the wire and as the discriminant of the
// canonical encoding below.
const (
	KindAddPeer     = "addPeer"
	KindRemovePeer  = "removePeer"
	KindModifyStake = "modifyStake"
	KindData        = "data"
	KindTestLoad    = "testLoad"
)

// appendTo encodes a command as a canonical JSON object with keys in the
// fixed order: seq, command, then the variant-specific fields.
func (c Command) appendTo(b *strings.Builder) {
	b.WriteByte('{')
	writeKey(b, "seq", true)
	writeUint(b, uint64(c.Seq))
	writeKey(b, "command", false)
	writeString(b, c.Kind)

	switch c.Kind {
	case KindAddPeer:
		writeKey(b, "host", false)
		writeString(b, c.Host)
		writeKey(b, "port", false)
		writeUint(b, uint64(c.Port))
		writeKey(b, "publicKey", false)
		writeString(b, c.PublicKey)
	case KindRemovePeer:
		writeKey(b, "publicKey", false)
		writeString(b, c.PublicKey)
	case KindModifyStake:
		writeKey(b, "publicKey", false)
		writeString(b, c.PublicKey)
		writeKey(b, "stake", false)
		writeInt(b, c.Stake)
	case KindData:
		writeKey(b, "ns", false)
		writeString(b, c.NS)
		writeKey(b, "base64url", false)
		writeString(b, c.Base64url)
	case KindTestLoad:
		writeKey(b, "timestamp", false)
		writeInt(b, c.Timestamp)
	}
	b.WriteByte('}')
}

// Commands encodes an ordered list of commands as a canonical JSON array.
func Commands(cmds []Command) []byte {
	var b strings.Builder
	b.WriteByte('[')
	for i, c := range cmds {
		if i > 0 {
			b.WriteByte(',')
		}
		c.appendTo(&b)
	}
	b.WriteByte(']')
	return []byte(b.String())
}

// TransactionEnvelope is the fixed shape of a transaction for the purposes
// of canonical encoding, mirroring the field order laid out in §3.
type TransactionEnvelope struct {
	Ident     string
	Origin    string
	Timestamp int64
	Commands  []Command
	Sig       string
}

func (t TransactionEnvelope) appendTo(b *strings.Builder) {
	b.WriteByte('{')
	writeKey(b, "ident", true)
	writeString(b, t.Ident)
	writeKey(b, "origin", false)
	writeString(b, t.Origin)
	writeKey(b, "timestamp", false)
	writeInt(b, t.Timestamp)
	writeKey(b, "commands", false)
	b.Write(Commands(t.Commands))
	writeKey(b, "sig", false)
	writeString(b, t.Sig)
	b.WriteByte('}')
}

// Transactions encodes an ordered list of transactions (already sorted by
// origin per the block invariant) as a canonical JSON array.
func Transactions(txs []TransactionEnvelope) []byte {
	var b strings.Builder
	b.WriteByte('[')
	for i, t := range txs {
		if i > 0 {
			b.WriteByte(',')
		}
		t.appendTo(&b)
	}
	b.WriteByte(']')
	return []byte(b.String())
}

// TransactionSigningBytes returns ident ∥ timestamp ∥ canonical(commands),
// the exact byte string a transaction's signature is computed over (§3).
func TransactionSigningBytes(ident string, timestamp int64, cmds []Command) []byte {
	var b strings.Builder
	b.WriteString(ident)
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.Write(Commands(cmds))
	return []byte(b.String())
}

// BlockHashInput returns previousHash ∥ version ∥ timestamp ∥ height ∥
// canonical(tx), the exact byte string a block's hash is computed over (§3).
func BlockHashInput(previousHash string, version uint16, timestamp int64, height uint64, txs []TransactionEnvelope) []byte {
	var b strings.Builder
	b.WriteString(previousHash)
	b.WriteString(strconv.FormatUint(uint64(version), 10))
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(strconv.FormatUint(height, 10))
	b.Write(Transactions(txs))
	return []byte(b.String())
}

// MessageSigningBytes returns ident ∥ seq ∥ origin ∥ dest ∥ canonical(data),
// the exact byte string a message envelope's signature is computed over
// (§4.6). data must already be canonical JSON bytes for its own shape.
func MessageSigningBytes(ident string, seq uint64, origin, dest string, data []byte) []byte {
	var b strings.Builder
	b.WriteString(ident)
	b.WriteString(strconv.FormatUint(seq, 10))
	b.WriteString(origin)
	b.WriteString(dest)
	b.Write(data)
	return []byte(b.String())
}

// =============================================================================

func writeKey(b *strings.Builder, key string, first bool) {
	if !first {
		b.WriteByte(',')
	}
	writeString(b, key)
	b.WriteByte(':')
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(`\u`)
				const hex = "0123456789abcdef"
				b.WriteByte('0')
				b.WriteByte('0')
				b.WriteByte(hex[(r>>4)&0xf])
				b.WriteByte(hex[r&0xf])
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

func writeInt(b *strings.Builder, v int64) {
	b.WriteString(strconv.FormatInt(v, 10))
}

func writeUint(b *strings.Builder, v uint64) {
	b.WriteString(strconv.FormatUint(v, 10))
}
