package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest accepted wire frame, newline excluded.
const MaxFrameSize = 64 * 1024

// ErrMalformedFrame marks protocol-level failures: invalid JSON, a missing
// or unknown discriminator, or an oversized frame. The connection that
// produced one must be closed.
var ErrMalformedFrame = errors.New("malformed frame")

// Encode marshals m as one newline-terminated frame.
func Encode(m Message) ([]byte, error) {
	m.setType(m.Type())
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return append(data, '\n'), nil
}

// Decoder reads newline-delimited frames from a byte stream.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder wraps r. Frames larger than MaxFrameSize fail the stream.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxFrameSize)
	return &Decoder{sc: sc}
}

// Next reads and decodes one frame. It returns io.EOF on clean stream end
// and an error wrapping ErrMalformedFrame for anything the codec rejects.
func (d *Decoder) Next() (Message, error) {
	if !d.sc.Scan() {
		if err := d.sc.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedFrame, MaxFrameSize)
			}
			return nil, err
		}
		return nil, io.EOF
	}
	return Decode(d.sc.Bytes())
}

// Decode parses one raw frame into its typed message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var msg Message
	switch env.MessageType {
	case TypeLogin:
		msg = &Login{}
	case TypeLoginResponse:
		msg = &LoginResponse{}
	case TypeRegister:
		msg = &Register{}
	case TypeRegisterResponse:
		msg = &RegisterResponse{}
	case TypeLogout:
		msg = &Logout{}
	case TypeChat:
		msg = &Chat{}
	case TypeError:
		msg = &Error{}
	case TypeBlacklist:
		msg = &Blacklist{}
	case TypeBlacklistResponse:
		msg = &BlacklistResponse{}
	case TypeUnblock:
		msg = &Unblock{}
	case TypeUnblockResponse:
		msg = &UnblockResponse{}
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeCreateRoomResponse:
		msg = &CreateRoomResponse{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeJoinRoomResponse:
		msg = &JoinRoomResponse{}
	case TypeListRooms:
		msg = &ListRooms{}
	case TypeListUsers:
		msg = &ListUsers{}
	case "":
		return nil, fmt.Errorf("%w: missing message_type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: unknown message_type %q", ErrMalformedFrame, env.MessageType)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return msg, nil
}
