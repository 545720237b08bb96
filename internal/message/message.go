// Package message defines the endpoint's message model: the (id, timestamp,
// kind) envelope and the closed set of kinds a Message can carry. Kind is a
// sealed tagged union (spec.md §9: "dynamic dispatch on message kind becomes
// a tagged-variant match") — every concrete kind lives in this file, and
// code elsewhere switches on Kind.Tag() rather than type-asserting blindly.
package message

import "time"

// Tag identifies a Kind's wire variant. Values are stable across versions —
// see the wire protocol table in SPEC_FULL.md §6.
type Tag byte

const (
	TagText       Tag = 1
	TagCipherText Tag = 2
	TagFile       Tag = 3
	TagCommand    Tag = 4
	TagStatus     Tag = 5
	TagHeartbeat  Tag = 6
	TagAck        Tag = 7
	TagHandshake  Tag = 8
)

// Kind is implemented by every message variant. isKind is unexported so no
// package outside message can introduce a new variant.
type Kind interface {
	Tag() Tag
	isKind()
}

// Reliable reports whether a kind's delivery is tracked with acks and
// retries. Text, CipherText and File are reliable; everything else is
// best-effort (spec.md §4.3).
func Reliable(k Kind) bool {
	switch k.Tag() {
	case TagText, TagCipherText, TagFile:
		return true
	default:
		return false
	}
}

// Message is the envelope every kind travels in: a process-local monotonic
// id, an send-time timestamp, and exactly one kind.
type Message struct {
	ID        uint64
	Timestamp time.Time
	Kind      Kind
}

// Text is a plain chat line, sent when the session has not negotiated
// encryption.
type Text struct {
	UTF8 string
}

func (Text) Tag() Tag { return TagText }
func (Text) isKind()  {}

// CipherText carries an encrypted chat payload. Ciphertext is the AEAD
// ciphertext-with-tag and Nonce is the 24-byte nonce it was sealed under;
// internal/wire encodes the nonce ahead of the length-prefixed ciphertext.
type CipherText struct {
	Nonce      [24]byte
	Ciphertext []byte
}

func (CipherText) Tag() Tag { return TagCipherText }
func (CipherText) isKind() {}

// File is a staged file payload.
type File struct {
	Name        string
	Size        int64
	ContentHash [32]byte
	Bytes       []byte
}

func (File) Tag() Tag { return TagFile }
func (File) isKind() {}

// CommandVariant identifies which /command a Command message carries.
type CommandVariant byte

const (
	CmdQuit CommandVariant = iota + 1
	CmdHelp
	CmdInfo
	CmdListPeers
	CmdSendFile
	CmdSetNickname
	CmdToggleAutoOpen
)

// Command is a typed command, either parsed locally from a "/name" line or
// received from the peer (in which case the dispatcher turns it into a
// Status update rather than executing it — spec.md §4.8).
type Command struct {
	Variant  CommandVariant
	Path     string // SendFile
	Nickname string // SetNickname
}

func (Command) Tag() Tag { return TagCommand }
func (Command) isKind() {}

// Status carries an informational update: peer nickname, transfer progress,
// disconnect reason, and so on. Kind here is a short machine-readable
// label, not the message.Kind tag.
type Status struct {
	Kind   string
	Detail string
}

func (Status) Tag() Tag { return TagStatus }
func (Status) isKind() {}

// Heartbeat is an empty keep-alive.
type Heartbeat struct{}

func (Heartbeat) Tag() Tag { return TagHeartbeat }
func (Heartbeat) isKind() {}

// Ack confirms receipt of the message with id TargetID.
type Ack struct {
	TargetID uint64
}

func (Ack) Tag() Tag { return TagAck }
func (Ack) isKind() {}

// HandshakeVariant identifies which handshake sub-message this is.
type HandshakeVariant byte

const (
	HandshakePublicKey HandshakeVariant = iota + 1
	HandshakeKeyConfirmed
	HandshakeEncryptionReady
	HandshakeNotSupported
)

// Handshake carries one step of the key-exchange sub-protocol. SigningKey
// and Signature are only populated for HandshakePublicKey: SigningKey is
// the sender's ed25519 public key, and Signature is that key's ed25519
// signature over Bytes (the X25519 public key), so a receiver can detect
// in-transit tampering of the exchanged key before trusting it.
type Handshake struct {
	Variant    HandshakeVariant
	Bytes      []byte // PublicKey payload; empty for the other variants
	SigningKey []byte // ed25519 public key, PublicKey variant only
	Signature  []byte // ed25519 signature over Bytes, PublicKey variant only
}

func (Handshake) Tag() Tag { return TagHandshake }
func (Handshake) isKind() {}
