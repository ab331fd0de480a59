package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ErrMalformed is returned when a frame fails to decode into any known
// packet kind.
var ErrMalformed = fmt.Errorf("protocol: malformed packet")

// Encode serializes p into a self-describing frame: a one-byte kind tag
// followed by the packet's fields, built with hand-written byte slices
// rather than a reflective or generated codec.
func Encode(p Packet) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(p.Kind()))

	switch v := p.(type) {
	case ServerInfo:
		writeI32(buf, v.Version)
	case RoomCreationRequest:
		writeI32(buf, v.Version)
		buf.Write(v.Type[:])
	case RoomLink:
		writeU64(buf, v.RoomID)
	case RoomClosureRequest:
	case RoomClosed:
		buf.WriteByte(byte(v.Reason))
	case RoomJoin:
		writeU64(buf, v.RoomID)
		buf.Write(v.Type[:])
		writeBool(buf, v.WithPassword)
		writeU16(buf, v.Password)
	case RoomJoinRequest:
		writeU64(buf, v.RoomID)
		buf.Write(v.Type[:])
		writeBool(buf, v.WithPassword)
		writeU16(buf, v.Password)
	case RoomJoinAccepted:
		writeU64(buf, v.RoomID)
	case RoomJoinDenied:
		writeU64(buf, v.RoomID)
		buf.WriteByte(byte(v.Reason))
	case RoomConfig:
		writeBool(buf, v.IsPublic)
		writeBool(buf, v.IsProtected)
		writeU16(buf, v.Password)
		writeBool(buf, v.CanRequestState)
	case RoomState:
		writeBytesOrNil(buf, v.State)
	case RoomStateRequest:
	case RoomInfoRequest:
		writeU64(buf, v.RoomID)
	case RoomInfo:
		writeU64(buf, v.RoomID)
		writeBool(buf, v.IsProtected)
		buf.Write(v.Type[:])
		writeBytesOrNil(buf, v.State)
	case RoomInfoDenied:
	case RoomListRequest:
		buf.Write(v.Type[:])
	case RoomList:
		writeU32(buf, uint32(len(v.States)))
		for id, state := range v.States {
			writeU64(buf, id)
			_, protected := v.ProtectedRooms[id]
			writeBool(buf, protected)
			writeBytesOrNil(buf, state)
		}
	case ConnectionJoin:
		writeU32(buf, v.ConID)
		writeU64(buf, v.AddressHash)
	case ConnectionClosed:
		writeU32(buf, v.ConID)
		buf.WriteByte(byte(v.Reason))
	case ConnectionIdling:
		writeU32(buf, v.ConID)
	case ConnectionPacketWrap:
		writeU32(buf, v.ConID)
		writeBool(buf, v.IsTCP)
		writeBytesOrNil(buf, v.Raw)
	case StreamHead:
		writeU32(buf, v.ID)
		writeU32(buf, v.Total)
		buf.WriteByte(byte(v.PacketType))
		writeBool(buf, v.Compressed)
	case StreamChunk:
		writeU32(buf, v.ID)
		writeBool(buf, v.Last)
		writeBytesOrNil(buf, v.Data)
	case Toast:
		buf.WriteByte(byte(v.Message))
		writeBytesOrNil(buf, []byte(v.Text))
	default:
		return nil, fmt.Errorf("protocol: unencodable packet %T", p)
	}
	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode. A zero-length frame or an
// unknown kind tag is ErrMalformed; a truncated frame returns the
// underlying read error (io.EOF or io.ErrUnexpectedEOF).
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrMalformed
	}
	kind := PacketType(data[0])
	r := bytes.NewReader(data[1:])

	switch kind {
	case TypeServerInfo:
		v, err := readI32(r)
		return ServerInfo{Version: v}, err
	case TypeRoomCreationRequest:
		ver, err := readI32(r)
		if err != nil {
			return nil, err
		}
		typ, err := readType(r)
		return RoomCreationRequest{Version: ver, Type: typ}, err
	case TypeRoomLink:
		id, err := readU64(r)
		return RoomLink{RoomID: id}, err
	case TypeRoomClosureRequest:
		return RoomClosureRequest{}, nil
	case TypeRoomClosed:
		reason, err := r.ReadByte()
		return RoomClosed{Reason: CloseReason(reason)}, err
	case TypeRoomJoin, TypeRoomJoinRequest:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		typ, err := readType(r)
		if err != nil {
			return nil, err
		}
		withPw, err := readBool(r)
		if err != nil {
			return nil, err
		}
		pw, err := readU16(r)
		if err != nil {
			return nil, err
		}
		if kind == TypeRoomJoin {
			return RoomJoin{RoomID: id, Type: typ, WithPassword: withPw, Password: pw}, nil
		}
		return RoomJoinRequest{RoomID: id, Type: typ, WithPassword: withPw, Password: pw}, nil
	case TypeRoomJoinAccepted:
		id, err := readU64(r)
		return RoomJoinAccepted{RoomID: id}, err
	case TypeRoomJoinDenied:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		reason, err := r.ReadByte()
		return RoomJoinDenied{RoomID: id, Reason: RejectReason(reason)}, err
	case TypeRoomConfig:
		pub, err := readBool(r)
		if err != nil {
			return nil, err
		}
		prot, err := readBool(r)
		if err != nil {
			return nil, err
		}
		pw, err := readU16(r)
		if err != nil {
			return nil, err
		}
		canState, err := readBool(r)
		return RoomConfig{IsPublic: pub, IsProtected: prot, Password: pw, CanRequestState: canState}, err
	case TypeRoomState:
		state, err := readBytesOrNil(r)
		return RoomState{State: state}, err
	case TypeRoomStateRequest:
		return RoomStateRequest{}, nil
	case TypeRoomInfoRequest:
		id, err := readU64(r)
		return RoomInfoRequest{RoomID: id}, err
	case TypeRoomInfo:
		id, err := readU64(r)
		if err != nil {
			return nil, err
		}
		prot, err := readBool(r)
		if err != nil {
			return nil, err
		}
		typ, err := readType(r)
		if err != nil {
			return nil, err
		}
		state, err := readBytesOrNil(r)
		return RoomInfo{RoomID: id, IsProtected: prot, Type: typ, State: state}, err
	case TypeRoomInfoDenied:
		return RoomInfoDenied{}, nil
	case TypeRoomListRequest:
		typ, err := readType(r)
		return RoomListRequest{Type: typ}, err
	case TypeRoomList:
		n, err := readU32(r)
		if err != nil {
			return nil, err
		}
		states := make(map[uint64][]byte, n)
		protected := make(map[uint64]struct{})
		for i := uint32(0); i < n; i++ {
			id, err := readU64(r)
			if err != nil {
				return nil, err
			}
			isProt, err := readBool(r)
			if err != nil {
				return nil, err
			}
			state, err := readBytesOrNil(r)
			if err != nil {
				return nil, err
			}
			states[id] = state
			if isProt {
				protected[id] = struct{}{}
			}
		}
		return RoomList{States: states, ProtectedRooms: protected}, nil
	case TypeConnectionJoin:
		conID, err := readU32(r)
		if err != nil {
			return nil, err
		}
		hash, err := readU64(r)
		return ConnectionJoin{ConID: conID, AddressHash: hash}, err
	case TypeConnectionClosed:
		conID, err := readU32(r)
		if err != nil {
			return nil, err
		}
		reason, err := r.ReadByte()
		return ConnectionClosed{ConID: conID, Reason: CloseReason(reason)}, err
	case TypeConnectionIdling:
		conID, err := readU32(r)
		return ConnectionIdling{ConID: conID}, err
	case TypeConnectionPacketWrap:
		conID, err := readU32(r)
		if err != nil {
			return nil, err
		}
		isTCP, err := readBool(r)
		if err != nil {
			return nil, err
		}
		raw, err := readBytesOrNil(r)
		return ConnectionPacketWrap{ConID: conID, IsTCP: isTCP, Raw: raw}, err
	case TypeStreamHead:
		id, err := readU32(r)
		if err != nil {
			return nil, err
		}
		total, err := readU32(r)
		if err != nil {
			return nil, err
		}
		pt, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		compressed, err := readBool(r)
		return StreamHead{ID: id, Total: total, PacketType: PacketType(pt), Compressed: compressed}, err
	case TypeStreamChunk:
		id, err := readU32(r)
		if err != nil {
			return nil, err
		}
		last, err := readBool(r)
		if err != nil {
			return nil, err
		}
		data, err := readBytesOrNil(r)
		return StreamChunk{ID: id, Last: last, Data: data}, err
	case TypeToast:
		msg, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		text, err := readBytesOrNil(r)
		return Toast{Message: MessageType(msg), Text: string(text)}, err
	default:
		return nil, ErrMalformed
	}
}

func writeI32(buf *bytes.Buffer, v int32) { binary.Write(buf, binary.BigEndian, v) } //nolint:errcheck
func writeU64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.BigEndian, v) } //nolint:errcheck
func writeU32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.BigEndian, v) } //nolint:errcheck
func writeU16(buf *bytes.Buffer, v uint16) { binary.Write(buf, binary.BigEndian, v) } //nolint:errcheck

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeBytesOrNil(buf *bytes.Buffer, data []byte) {
	if data == nil {
		writeU32(buf, 0xFFFFFFFF)
		return
	}
	writeU32(buf, uint32(len(data)))
	buf.Write(data)
}

func readI32(r *bytes.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readU64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readU32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readU16(r *bytes.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func readType(r *bytes.Reader) (RoomType, error) {
	var t RoomType
	_, err := io.ReadFull(r, t[:])
	return t, err
}

func readBytesOrNil(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0xFFFFFFFF {
		return nil, nil
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
