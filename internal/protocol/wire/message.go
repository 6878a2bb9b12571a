package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message 入站/出站消息信封
type Message struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	ClientID  string         `json:"clientId,omitempty"`

	// rawData 保留原始 data，用于绑定到具体载荷结构
	rawData json.RawMessage
}

// NewMessage 创建消息；id 缺省时生成 UUID，时间戳取当前时间
func NewMessage(t MessageType, data map[string]any, clientID string) *Message {
	if data == nil {
		data = map[string]any{}
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UTC(),
		ClientID:  clientID,
	}
}

// Bind 把 data 解码到目标结构
func (m *Message) Bind(dst any) error {
	raw := m.rawData
	if len(raw) == 0 {
		b, err := json.Marshal(m.Data)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, dst)
}

// Str 读取 data 中的字符串字段
func (m *Message) Str(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

// Frame 服务端下发帧
type Frame struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	ClientID  string      `json:"clientId,omitempty"`
}

// ErrorData 错误帧负载
type ErrorData struct {
	Message string   `json:"message"`
	Code    string   `json:"code"`
	Errors  []string `json:"errors,omitempty"`
}

// WelcomeData 欢迎帧负载
type WelcomeData struct {
	ConnectionID string    `json:"connectionId"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// WelcomeText 欢迎语
const WelcomeText = "Connected to WebSocket server"

// NewFrame 构造下发帧
func NewFrame(t MessageType, data any, clientID string) Frame {
	if data == nil {
		data = map[string]any{}
	}
	return Frame{Type: t, Data: data, Timestamp: time.Now().UTC(), ClientID: clientID}
}

// Encode 序列化帧
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// ErrorFrame 构造错误帧
func ErrorFrame(message, code string, errs []string) Frame {
	return NewFrame(TypeError, ErrorData{Message: message, Code: code, Errors: errs}, "")
}

// WelcomeFrame 构造欢迎帧
func WelcomeFrame(connectionID string) Frame {
	now := time.Now().UTC()
	return Frame{
		Type: TypeWelcome,
		Data: WelcomeData{
			ConnectionID: connectionID,
			Message:      WelcomeText,
			Timestamp:    now,
		},
		Timestamp: now,
	}
}
