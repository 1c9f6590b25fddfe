package domain

import "time"

// DefaultSessionTTL 会话默认有效期
const DefaultSessionTTL = 2 * time.Hour

// Session 登录会话，每个用户同一时刻最多一条
type Session struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"userId" gorm:"uniqueIndex;type:varchar(36);not null"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;type:char(64);not null"` // 只保存令牌的 SHA-256
	IPAddress string    `json:"ipAddress" gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExpiredAt 判断会话在 now 时刻是否已过期
//
// 过期不是存储状态，而是 now 与创建时间的纯函数：
// 恰好等于 ttl 时仍然有效。
func (s *Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// ValidFor 判断会话对指定客户端 IP 在 now 时刻是否有效
func (s *Session) ValidFor(now time.Time, ttl time.Duration, clientIP string) bool {
	return !s.ExpiredAt(now, ttl) && s.IPAddress == clientIP
}
