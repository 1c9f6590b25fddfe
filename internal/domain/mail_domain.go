package domain

import "time"

// MailDomain 表示一个托管的邮件域名，由管理员创建后不再变更
type MailDomain struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"uniqueIndex;type:varchar(253);not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定 GORM 表名
func (MailDomain) TableName() string {
	return "domains"
}
