package protocol

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jnkforks/CallRecorder/internal/callstate"
)

const (
	// Packet types
	PacketTypeCallState = 0x01
	PacketTypeHeartbeat = 0x02

	// Packet structure sizes
	HeaderSize           = 8  // 1 + 2 + 4 + 1 bytes
	CallStatePayloadSize = 36 // 32 + 4 bytes

	NumberSize    = 32
	TimestampSize = 4
)

// Header is the 8-byte packet header.
// Layout: [PacketType:1][PacketLen:2][LineID:4][State:1]
type Header struct {
	PacketType uint8  // 0x01=CallState, 0x02=Heartbeat
	PacketLen  uint16 // Total packet size (header + payload)
	LineID     uint32 // Telephone line the signal belongs to
	State      uint8  // callstate.State; 0 for heartbeats
}

// CallStatePayload is the 36-byte call-state payload.
// Layout: [Number:32][Timestamp:4]
type CallStatePayload struct {
	Number    [NumberSize]byte // Null-terminated string
	Timestamp uint32           // Unix seconds at the gateway
}

// ParsedPacket is a fully parsed datagram.
type ParsedPacket struct {
	Header    *Header
	CallState *CallStatePayload // Only set for call-state packets
}

// ParseHeader parses the 8-byte header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		LineID:     binary.BigEndian.Uint32(data[3:7]),
		State:      data[7],
	}, nil
}

// ParseCallStatePayload parses the 36-byte call-state payload.
func ParseCallStatePayload(data []byte) (*CallStatePayload, error) {
	if len(data) < CallStatePayloadSize {
		return nil, fmt.Errorf("call state payload too short: expected %d bytes, got %d",
			CallStatePayloadSize, len(data))
	}

	payload := &CallStatePayload{}
	copy(payload.Number[:], data[:NumberSize])
	payload.Timestamp = binary.BigEndian.Uint32(data[NumberSize : NumberSize+TimestampSize])
	return payload, nil
}

// ParsePacket parses a complete datagram.
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	if header.PacketType == PacketTypeCallState {
		payload, err := ParseCallStatePayload(data[HeaderSize:])
		if err != nil {
			return nil, fmt.Errorf("failed to parse call state payload: %w", err)
		}
		packet.CallState = payload
	}

	return packet, nil
}

// ValidateHeader validates the header fields.
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeCallState:
		if !callstate.State(header.State).Valid() {
			return fmt.Errorf("invalid call state: 0x%02x", header.State)
		}
		if payloadSize != CallStatePayloadSize {
			return fmt.Errorf("call state packet payload size mismatch: expected %d, got %d",
				CallStatePayloadSize, payloadSize)
		}
	case PacketTypeHeartbeat:
		if payloadSize != 0 {
			return fmt.Errorf("heartbeat packet carries %d payload bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is known.
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeCallState || ptype == PacketTypeHeartbeat
}

// ExtractString extracts a null-terminated string from a fixed-size byte array.
func ExtractString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// GetNumber returns the phone number.
func (p *CallStatePayload) GetNumber() string {
	return ExtractString(p.Number[:])
}

// Time returns the gateway timestamp, or the zero time when unset.
func (p *CallStatePayload) Time() time.Time {
	if p.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(int64(p.Timestamp), 0)
}

// CallState returns the state carried by a call-state header.
func (h *Header) CallState() callstate.State {
	return callstate.State(h.State)
}

// TypeName returns a short label for metrics and logs.
func (h *Header) TypeName() string {
	switch h.PacketType {
	case PacketTypeCallState:
		return "call_state"
	case PacketTypeHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

func (h *Header) String() string {
	if h.PacketType == PacketTypeCallState {
		return fmt.Sprintf("Header{Type:%s, Len:%d, LineID:%d, State:%s}",
			h.TypeName(), h.PacketLen, h.LineID, h.CallState())
	}
	return fmt.Sprintf("Header{Type:%s, Len:%d, LineID:%d}", h.TypeName(), h.PacketLen, h.LineID)
}

func (p *CallStatePayload) String() string {
	return fmt.Sprintf("CallStatePayload{Number:%q, Timestamp:%d}", p.GetNumber(), p.Timestamp)
}

// EncodeCallState builds a call-state datagram. number is truncated to fit.
func EncodeCallState(lineID uint32, state callstate.State, number string, ts time.Time) ([]byte, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("invalid call state: %d", state)
	}
	if len(number) >= NumberSize {
		return nil, fmt.Errorf("number too long: %d bytes (maximum %d)", len(number), NumberSize-1)
	}

	buf := make([]byte, HeaderSize+CallStatePayloadSize)
	putHeader(buf, PacketTypeCallState, lineID, uint8(state))
	copy(buf[HeaderSize:], number)

	var unix uint32
	if !ts.IsZero() {
		unix = uint32(ts.Unix())
	}
	binary.BigEndian.PutUint32(buf[HeaderSize+NumberSize:], unix)
	return buf, nil
}

// EncodeHeartbeat builds a heartbeat datagram.
func EncodeHeartbeat(lineID uint32) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeHeartbeat, lineID, 0)
	return buf
}

func putHeader(buf []byte, ptype uint8, lineID uint32, state uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], lineID)
	buf[7] = state
}
