package ending

import (
	"strings"
	"time"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/analysis/relationship"
)

// Type 是结局类型。
type Type string

const (
	Happy Type = "HAPPY"
	Sad   Type = "SAD"
)

// ParseType 校验客户端传入的结局类型，大小写不敏感。
func ParseType(raw string) (Type, bool) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(raw))); t {
	case Happy, Sad:
		return t, true
	default:
		return "", false
	}
}

func (t Type) mood() string {
	if t == Happy {
		return "warm, grateful"
	}
	return "wistful, bittersweet"
}

// Scene 是尾声中的一幕。
type Scene struct {
	Narration string        `json:"narration"`
	Dialogue  string        `json:"dialogue,omitempty"`
	Emotion   emotion.Label `json:"emotion"`
	Location  string        `json:"location,omitempty"`
	Outfit    string        `json:"outfit,omitempty"`
	Mood      string        `json:"mood,omitempty"`
}

// Stats 汇总本次攻略的数据。
type Stats struct {
	MessageCount   int               `json:"messageCount"`
	DaysTogether   int               `json:"daysTogether"`
	FinalScore     int               `json:"finalScore"`
	FinalTier      relationship.Tier `json:"finalTier"`
	FirstMessageAt *time.Time        `json:"firstMessageAt,omitempty"`
}

// Epilogue 是结局接口的完整返回。
type Epilogue struct {
	RoomID        string   `json:"roomId"`
	CharacterID   string   `json:"characterId"`
	CharacterName string   `json:"characterName"`
	Type          Type     `json:"endingType"`
	Title         string   `json:"title"`
	Scenes        []Scene  `json:"scenes"`
	Memories      []string `json:"memories"`
	ClosingQuote  string   `json:"closingQuote"`
	Stats         Stats    `json:"stats"`
}
