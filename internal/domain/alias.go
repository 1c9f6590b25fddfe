package domain

import "time"

// Alias 表示一个转发身份，与用户共享同一身份命名空间。
// 发往 Source@域名 的邮件会被转发到 Destination。
type Alias struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DomainID    string    `json:"domainId" gorm:"type:varchar(36);not null;uniqueIndex:idx_aliases_domain_source,priority:1"`
	Source      string    `json:"source" gorm:"type:varchar(100);not null;uniqueIndex:idx_aliases_domain_source,priority:2"`
	Destination string    `json:"destination" gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time `json:"createdAt"`
}
