package chat

import "time"

// Role 标识日志条目的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message 是不可变的会话日志条目，按 Seq 全序排列。
type Message struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	Seq          int64     `json:"seq"`
	Role         Role      `json:"role"`
	RawContent   string    `json:"rawContent"`
	CleanContent string    `json:"cleanContent"`
	EmotionTag   string    `json:"emotionTag,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
