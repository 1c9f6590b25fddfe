package domain

import "time"

// User 表示一个邮箱账户（虚拟用户）
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DomainID     string    `json:"domainId" gorm:"type:varchar(36);not null;uniqueIndex:idx_users_domain_name,priority:1"`
	Name         string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_users_domain_name,priority:2"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"` // 不返回给前端
	IsAdmin      bool      `json:"isAdmin" gorm:"default:false"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Email 返回用户在给定域名下的完整地址
func (u *User) Email(domainName string) string {
	return u.Name + "@" + domainName
}

// Principal 表示一次会话校验通过后的身份
type Principal struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
}
