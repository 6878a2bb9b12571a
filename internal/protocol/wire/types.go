package wire

// MessageType 消息类型
type MessageType string

const (
	TypeChat              MessageType = "chat"
	TypeJoinRoom          MessageType = "join_room"
	TypeLeaveRoom         MessageType = "leave_room"
	TypeBroadcast         MessageType = "broadcast"
	TypePing              MessageType = "ping"
	TypePong              MessageType = "pong"
	TypeError             MessageType = "error"
	TypeDeviceInfo        MessageType = "device_info"
	TypeDeviceStateUpdate MessageType = "device_state_update"
	TypeGetDeviceStates   MessageType = "get_device_states"

	// TypeWelcome 仅服务端下发
	TypeWelcome MessageType = "welcome"
)

// knownTypes 客户端可发送的类型
var knownTypes = map[MessageType]struct{}{
	TypeChat:              {},
	TypeJoinRoom:          {},
	TypeLeaveRoom:         {},
	TypeBroadcast:         {},
	TypePing:              {},
	TypePong:              {},
	TypeError:             {},
	TypeDeviceInfo:        {},
	TypeDeviceStateUpdate: {},
	TypeGetDeviceStates:   {},
}

// Known 是否为协议定义的入站类型
func (t MessageType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

func (t MessageType) String() string { return string(t) }
