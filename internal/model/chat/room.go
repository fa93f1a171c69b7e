package chat

import "time"

// Mode 决定系统提示词使用的变体。
type Mode string

const (
	ModeStory   Mode = "story"
	ModeSandbox Mode = "sandbox"
	ModeSecret  Mode = "secret"
)

// ParseMode 将客户端传入的字符串规范化为 Mode。
func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case ModeStory, ModeSandbox, ModeSecret:
		return Mode(raw), true
	default:
		return "", false
	}
}

// UsesMemory 表示该模式下是否需要检索长期记忆。
func (m Mode) UsesMemory() bool {
	return m == ModeStory || m == ModeSecret
}

// Room 表示用户与角色之间持续存在的关系会话。
// RelationTier 只由 Affection 推导，存储层在每次写入时重新计算。
type Room struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	CharacterID   string    `json:"characterId"`
	Affection     int       `json:"affection"`
	RelationTier  string    `json:"relationTier"`
	Mode          Mode      `json:"mode"`
	Location      string    `json:"location"`
	Outfit        string    `json:"outfit"`
	LastEmotion   string    `json:"lastEmotion,omitempty"`
	LastActiveAt  time.Time `json:"lastActiveAt"`
	EndingReached bool      `json:"endingReached"`
	EndingType    string    `json:"endingType,omitempty"`
	EndingTitle   string    `json:"endingTitle,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
