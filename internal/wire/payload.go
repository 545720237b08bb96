package wire

import (
	"encoding/binary"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/message"
)

func encodePayload(k message.Kind) []byte {
	switch v := k.(type) {
	case message.Text:
		return encodeString(v.UTF8)
	case message.CipherText:
		out := make([]byte, 24+4+len(v.Ciphertext))
		copy(out[0:24], v.Nonce[:])
		binary.BigEndian.PutUint32(out[24:28], uint32(len(v.Ciphertext)))
		copy(out[28:], v.Ciphertext)
		return out
	case message.File:
		nameBytes := encodeString(v.Name)
		out := make([]byte, 0, len(nameBytes)+8+32+4+len(v.Bytes))
		out = append(out, nameBytes...)
		var sizeBuf [8]byte
		binary.BigEndian.PutUint64(sizeBuf[:], uint64(v.Size))
		out = append(out, sizeBuf[:]...)
		out = append(out, v.ContentHash[:]...)
		out = append(out, encodeBytes(v.Bytes)...)
		return out
	case message.Command:
		return encodeCommand(v)
	case message.Status:
		out := encodeString(v.Kind)
		out = append(out, encodeString(v.Detail)...)
		return out
	case message.Heartbeat:
		return nil
	case message.Ack:
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, v.TargetID)
		return out
	case message.Handshake:
		out := make([]byte, 1)
		out[0] = byte(v.Variant)
		out = append(out, encodeBytes(v.Bytes)...)
		out = append(out, encodeBytes(v.SigningKey)...)
		out = append(out, encodeBytes(v.Signature)...)
		return out
	default:
		panic("wire: unhandled message kind")
	}
}

func decodePayload(tag message.Tag, payload []byte) (message.Kind, error) {
	switch tag {
	case message.TagText:
		s, _, err := readString(payload, 0)
		if err != nil {
			return nil, err
		}
		return message.Text{UTF8: s}, nil

	case message.TagCipherText:
		if len(payload) < 24+4 {
			return nil, &chaterr.TruncatedPayload{}
		}
		var nonce [24]byte
		copy(nonce[:], payload[0:24])
		ctLen := binary.BigEndian.Uint32(payload[24:28])
		if uint32(len(payload)-28) < ctLen {
			return nil, &chaterr.TruncatedPayload{}
		}
		ct := make([]byte, ctLen)
		copy(ct, payload[28:28+ctLen])
		return message.CipherText{Nonce: nonce, Ciphertext: ct}, nil

	case message.TagFile:
		name, off, err := readString(payload, 0)
		if err != nil {
			return nil, err
		}
		if len(payload)-off < 8+32 {
			return nil, &chaterr.TruncatedPayload{}
		}
		size := int64(binary.BigEndian.Uint64(payload[off : off+8]))
		off += 8
		var hash [32]byte
		copy(hash[:], payload[off:off+32])
		off += 32
		bytes, _, err := readBytes(payload, off)
		if err != nil {
			return nil, err
		}
		return message.File{Name: name, Size: size, ContentHash: hash, Bytes: bytes}, nil

	case message.TagCommand:
		return decodeCommand(payload)

	case message.TagStatus:
		kind, off, err := readString(payload, 0)
		if err != nil {
			return nil, err
		}
		detail, _, err := readString(payload, off)
		if err != nil {
			return nil, err
		}
		return message.Status{Kind: kind, Detail: detail}, nil

	case message.TagHeartbeat:
		return message.Heartbeat{}, nil

	case message.TagAck:
		if len(payload) < 8 {
			return nil, &chaterr.TruncatedPayload{}
		}
		return message.Ack{TargetID: binary.BigEndian.Uint64(payload[0:8])}, nil

	case message.TagHandshake:
		if len(payload) < 1 {
			return nil, &chaterr.TruncatedPayload{}
		}
		variant := message.HandshakeVariant(payload[0])
		bytes, off, err := readBytes(payload, 1)
		if err != nil {
			return nil, err
		}
		signingKey, off, err := readBytes(payload, off)
		if err != nil {
			return nil, err
		}
		signature, _, err := readBytes(payload, off)
		if err != nil {
			return nil, err
		}
		return message.Handshake{Variant: variant, Bytes: bytes, SigningKey: signingKey, Signature: signature}, nil

	default:
		return nil, &chaterr.UnknownVariant{Tag: byte(tag)}
	}
}

func encodeCommand(c message.Command) []byte {
	out := []byte{byte(c.Variant)}
	switch c.Variant {
	case message.CmdSendFile:
		out = append(out, encodeString(c.Path)...)
	case message.CmdSetNickname:
		out = append(out, encodeString(c.Nickname)...)
	}
	return out
}

func decodeCommand(payload []byte) (message.Command, error) {
	if len(payload) < 1 {
		return message.Command{}, &chaterr.TruncatedPayload{}
	}
	variant := message.CommandVariant(payload[0])
	cmd := message.Command{Variant: variant}
	switch variant {
	case message.CmdSendFile:
		path, _, err := readString(payload, 1)
		if err != nil {
			return message.Command{}, err
		}
		cmd.Path = path
	case message.CmdSetNickname:
		nick, _, err := readString(payload, 1)
		if err != nil {
			return message.Command{}, err
		}
		cmd.Nickname = nick
	}
	return cmd, nil
}

func encodeString(s string) []byte {
	return encodeBytes([]byte(s))
}

func encodeBytes(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(b)))
	copy(out[4:], b)
	return out
}

func readString(buf []byte, off int) (string, int, error) {
	b, next, err := readBytes(buf, off)
	if err != nil {
		return "", 0, err
	}
	return string(b), next, nil
}

func readBytes(buf []byte, off int) ([]byte, int, error) {
	if len(buf)-off < 4 {
		return nil, 0, &chaterr.TruncatedPayload{}
	}
	n := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	if uint32(len(buf)-off) < n {
		return nil, 0, &chaterr.TruncatedPayload{}
	}
	if n == 0 {
		return nil, off, nil
	}
	out := make([]byte, n)
	copy(out, buf[off:off+int(n)])
	return out, off + int(n), nil
}
