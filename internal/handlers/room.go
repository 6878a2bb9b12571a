package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/apperr"
	"github.com/taoyao-code/device-gateway/internal/outbound"
	"github.com/taoyao-code/device-gateway/internal/protocol/wire"
	"github.com/taoyao-code/device-gateway/internal/session"
)

// 房间通知类型（broadcast 帧 data.type）
const (
	NoticeUserJoined = "user_joined"
	NoticeUserLeft   = "user_left"
)

// RoomNotice 房间成员变动通知帧
func RoomNotice(kind, room, username string) wire.Frame {
	verb := "joined"
	if kind == NoticeUserLeft {
		verb = "left"
	}
	return wire.NewFrame(wire.TypeBroadcast, map[string]any{
		"type":     kind,
		"room":     room,
		"username": username,
		"message":  fmt.Sprintf("%s %s the room", username, verb),
	}, "")
}

// ChatHandler 房间聊天
type ChatHandler struct {
	deps Deps
}

func (h *ChatHandler) MessageTypes() []wire.MessageType {
	return []wire.MessageType{wire.TypeChat}
}

// Handle 房间取 data.room，其次连接当前房间，最后默认房间。
// 发送者若不在目标房间，单独回送一份。
func (h *ChatHandler) Handle(_ context.Context, msg *wire.Message, conn *session.Conn) error {
	var data wire.ChatData
	if err := msg.Bind(&data); err != nil {
		return apperr.Validation("Invalid chat payload")
	}

	room := firstNonEmpty(data.Room, conn.MetaString(session.MetaRoom), h.deps.DefaultRoom)
	author := firstNonEmpty(data.Author, conn.MetaString(session.MetaUsername), h.deps.DefaultUsername)

	frame := wire.NewFrame(wire.TypeChat, map[string]any{
		"content": data.Content,
		"author":  author,
		"room":    room,
	}, conn.ID())

	h.deps.Broadcaster.BroadcastToRoom(room, frame, "")
	if conn.MetaString(session.MetaRoom) != room {
		return outbound.SendFrame(conn, frame)
	}
	return nil
}

// JoinRoomHandler 加入房间；已在其它房间时先通知旧房间离开
type JoinRoomHandler struct {
	deps Deps
	log  *zap.Logger
}

func (h *JoinRoomHandler) MessageTypes() []wire.MessageType {
	return []wire.MessageType{wire.TypeJoinRoom}
}

func (h *JoinRoomHandler) Handle(_ context.Context, msg *wire.Message, conn *session.Conn) error {
	var data wire.JoinRoomData
	if err := msg.Bind(&data); err != nil {
		return apperr.Validation("Invalid join room payload")
	}
	username := firstNonEmpty(data.Username, h.deps.DefaultUsername)
	prevRoom := conn.MetaString(session.MetaRoom)
	prevName := firstNonEmpty(conn.MetaString(session.MetaUsername), h.deps.DefaultUsername)

	update := map[string]any{
		session.MetaRoom:     data.Room,
		session.MetaUsername: username,
		session.MetaUserID:   nil,
	}
	if data.UserID != "" {
		update[session.MetaUserID] = data.UserID
	}
	conn.UpdateMetadata(update)

	if err := outbound.SendResponse(conn, wire.TypeJoinRoom, map[string]any{
		"success": true,
		"room":    data.Room,
		"message": "Successfully joined room: " + data.Room,
	}, msg.ClientID); err != nil {
		return err
	}

	if prevRoom != "" && prevRoom != data.Room {
		h.deps.Broadcaster.BroadcastToRoom(prevRoom, RoomNotice(NoticeUserLeft, prevRoom, prevName), conn.ID())
	}
	h.deps.Broadcaster.BroadcastToRoom(data.Room, RoomNotice(NoticeUserJoined, data.Room, username), conn.ID())

	h.log.Info("user joined room",
		zap.String("conn_id", conn.ID()),
		zap.String("room", data.Room),
		zap.String("previous_room", prevRoom),
		zap.String("username", username))
	return nil
}

// LeaveRoomHandler 离开当前房间
type LeaveRoomHandler struct {
	deps Deps
}

func (h *LeaveRoomHandler) MessageTypes() []wire.MessageType {
	return []wire.MessageType{wire.TypeLeaveRoom}
}

func (h *LeaveRoomHandler) Handle(_ context.Context, msg *wire.Message, conn *session.Conn) error {
	room := conn.MetaString(session.MetaRoom)
	if room == "" {
		return apperr.Validation("Not currently in any room")
	}
	username := firstNonEmpty(conn.MetaString(session.MetaUsername), h.deps.DefaultUsername)

	conn.UpdateMetadata(map[string]any{session.MetaRoom: nil})

	if err := outbound.SendResponse(conn, wire.TypeLeaveRoom, map[string]any{
		"success": true,
		"room":    room,
		"message": "Successfully left room: " + room,
	}, msg.ClientID); err != nil {
		return err
	}
	h.deps.Broadcaster.BroadcastToRoom(room, RoomNotice(NoticeUserLeft, room, username), conn.ID())
	return nil
}

// PingHandler 心跳
type PingHandler struct {
	deps Deps
}

func (h *PingHandler) MessageTypes() []wire.MessageType {
	return []wire.MessageType{wire.TypePing}
}

func (h *PingHandler) Handle(_ context.Context, msg *wire.Message, conn *session.Conn) error {
	return outbound.SendResponse(conn, wire.TypePong, map[string]any{
		"timestamp": h.deps.now(),
	}, msg.ClientID)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
