// Package protocol defines the JSON wire messages exchanged between chat
// clients and the server, and the newline-delimited codec that frames them.
//
// Every frame is one JSON object carrying a "message_type" discriminator.
// Decode returns a typed message, one Go struct per discriminator value, so
// nothing past the codec boundary works with untyped maps.
package protocol

// Message type discriminators. The values are part of the wire contract and
// must not change.
const (
	TypeLogin              = "message_login"
	TypeLoginResponse      = "message_login_response"
	TypeRegister           = "message_register"
	TypeRegisterResponse   = "message_register_response"
	TypeLogout             = "message_logout"
	TypeChat               = "message_chat"
	TypeError              = "message_error"
	TypeBlacklist          = "blacklist"
	TypeBlacklistResponse  = "blacklist_response"
	TypeUnblock            = "unblock"
	TypeUnblockResponse    = "unblock_response"
	TypeCreateRoom         = "create_room"
	TypeCreateRoomResponse = "create_room_response"
	TypeJoinRoom           = "join_room"
	TypeJoinRoomResponse   = "join_room_response"
	TypeListRooms          = "list_rooms"
	TypeListUsers          = "list_users"
)

// Error type tokens carried in the errortype field of an Error message.
const (
	ErrTypeUsernameExists          = "username_exists"
	ErrTypeInvalidBlacklist        = "invalid_blacklist"
	ErrTypeInvalidUsernamePassword = "invalid_username_password"
	ErrTypeInvalidMessageTarget    = "invalid_message_target"
	ErrTypeInvalidRoom             = "invalid_room"
	ErrTypeServerError             = "server_error"
	ErrTypeRoomNotFound            = "room_not_found"
)

// Message is implemented by every wire message. Encode stamps the
// discriminator before marshalling, so zero-value structs round-trip.
type Message interface {
	Type() string
	setType(string)
}

// envelope holds the discriminator field shared by all messages.
type envelope struct {
	MessageType string `json:"message_type"`
}

func (e *envelope) setType(t string) { e.MessageType = t }

// Login is a client authentication request.
type Login struct {
	envelope
	Username string `json:"username"`
	Password string `json:"password"`
}

func (*Login) Type() string { return TypeLogin }

// LoginResponse acknowledges a successful login. The field is "id", not
// "userid" — clients depend on it.
type LoginResponse struct {
	envelope
	Username string `json:"username"`
	ID       string `json:"id"`
	RoomID   string `json:"roomid"`
	RoomName string `json:"roomname"`
}

func (*LoginResponse) Type() string { return TypeLoginResponse }

// Register is a client account-creation request.
type Register struct {
	envelope
	Username string `json:"username"`
	Password string `json:"password"`
}

func (*Register) Type() string { return TypeRegister }

// RegisterResponse acknowledges a successful registration.
type RegisterResponse struct {
	envelope
	Username string `json:"username"`
	Status   string `json:"status"`
}

func (*RegisterResponse) Type() string { return TypeRegisterResponse }

// Logout asks the server to close the session owning the given user id.
type Logout struct {
	envelope
	Username string `json:"username"`
	ID       string `json:"id"`
}

func (*Logout) Type() string { return TypeLogout }

// ChatItem is one utterance inside a Chat envelope. Server-assigned fields
// (ID, AuthorName, CreateDate) are empty on inbound items.
type ChatItem struct {
	ID             string `json:"id,omitempty"`
	AuthorName     string `json:"authorname"`
	AuthorID       string `json:"authorid"`
	TargetUsername string `json:"target_username,omitempty"`
	RoomID         string `json:"roomid"`
	TargetUserID   string `json:"target_userid"`
	Body           string `json:"message"`
	CreateDate     string `json:"createdate"`
}

// Chat carries one or more chat items. A single batch may mix room messages
// and direct messages; each item is routed independently.
type Chat struct {
	envelope
	Messages []ChatItem `json:"messages"`
}

func (*Chat) Type() string { return TypeChat }

// Error reports a failure back to the peer that caused it.
type Error struct {
	envelope
	ErrorType string `json:"errortype"`
	Message   string `json:"message"`
}

func (*Error) Type() string { return TypeError }

// Blacklist asks the server to block messages from blocked_username to the
// requesting user.
type Blacklist struct {
	envelope
	UserID          string `json:"userid"`
	BlockedUsername string `json:"blocked_username"`
}

func (*Blacklist) Type() string { return TypeBlacklist }

// BlacklistResponse acknowledges a blacklist insertion.
type BlacklistResponse struct {
	envelope
	UserID          string `json:"userid"`
	BlockedUsername string `json:"blocked_username"`
}

func (*BlacklistResponse) Type() string { return TypeBlacklistResponse }

// Unblock removes a blacklist pair.
type Unblock struct {
	envelope
	UserID          string `json:"userid"`
	BlockedUsername string `json:"blocked_username"`
}

func (*Unblock) Type() string { return TypeUnblock }

// UnblockResponse acknowledges a blacklist deletion.
type UnblockResponse struct {
	envelope
	UserID          string `json:"userid"`
	BlockedUsername string `json:"blocked_username"`
}

func (*UnblockResponse) Type() string { return TypeUnblockResponse }

// CreateRoom asks the server to create (and join) a named room.
type CreateRoom struct {
	envelope
	Name string `json:"name"`
}

func (*CreateRoom) Type() string { return TypeCreateRoom }

// CreateRoomResponse acknowledges room creation.
type CreateRoomResponse struct {
	envelope
	Name string `json:"name"`
}

func (*CreateRoomResponse) Type() string { return TypeCreateRoomResponse }

// JoinRoom asks the server to move the session into the named room.
type JoinRoom struct {
	envelope
	UserID   string `json:"userid"`
	RoomName string `json:"roomname"`
}

func (*JoinRoom) Type() string { return TypeJoinRoom }

// JoinRoomResponse acknowledges a join; recent room history follows as a
// separate Chat frame.
type JoinRoomResponse struct {
	envelope
	UserID   string `json:"userid"`
	RoomName string `json:"roomname"`
	RoomID   string `json:"roomid"`
}

func (*JoinRoomResponse) Type() string { return TypeJoinRoomResponse }

// ListRooms is both the request (empty rooms) and the response carrying all
// persisted room names.
type ListRooms struct {
	envelope
	Rooms []string `json:"rooms"`
}

func (*ListRooms) Type() string { return TypeListRooms }

// ListUsers is both the request (roomid set) and the response carrying the
// usernames currently present in the room.
type ListUsers struct {
	envelope
	RoomID   string   `json:"roomid"`
	RoomName string   `json:"roomname"`
	Users    []string `json:"users"`
}

func (*ListUsers) Type() string { return TypeListUsers }
