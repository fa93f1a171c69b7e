package memory

import "time"

// Record 是写入向量库的一条长期记忆。
type Record struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Vector    []float32         `json:"-"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Match 是一次相似度查询的命中结果。
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// 记录元数据中使用的键。
const (
	MetaSummary     = "summary"
	MetaRoomID      = "room_id"
	MetaCharacterID = "character_id"
)

// Namespace 返回用户专属的向量命名空间。
func Namespace(userID string) string {
	return "user:" + userID
}
