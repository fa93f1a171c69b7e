package user

import "time"

// User 只保存会话引擎关心的字段，账号体系由外部负责。
type User struct {
	ID        string    `json:"id"`
	Energy    int       `json:"energy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Achievement 记录一次成就解锁。
type Achievement struct {
	UserID     string    `json:"userId"`
	Code       string    `json:"code"`
	UnlockedAt time.Time `json:"unlockedAt"`
}
