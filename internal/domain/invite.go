package domain

import "time"

// InviteStatus 邀请码状态
type InviteStatus string

const (
	InviteUnredeemed InviteStatus = "unredeemed"
	InviteRedeemed   InviteStatus = "redeemed"
)

// Invite 一次性注册凭证，只能在所属域名内兑换一次
type Invite struct {
	ID         string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Code       string       `json:"-" gorm:"uniqueIndex;type:varchar(64);not null"` // 邀请码只通过通知渠道下发
	DomainID   string       `json:"domainId" gorm:"type:varchar(36);not null;index"`
	IssuedBy   string       `json:"issuedBy" gorm:"type:varchar(36);not null"`
	Status     InviteStatus `json:"status" gorm:"type:varchar(16);not null;default:'unredeemed'"`
	RedeemedBy *string      `json:"redeemedBy,omitempty" gorm:"type:varchar(36)"`
	CreatedAt  time.Time    `json:"createdAt"`
	ConsumedAt *time.Time   `json:"consumedAt,omitempty"`
}

// Redeemable 判断邀请码能否在指定域名下兑换
func (i *Invite) Redeemable(domainID string) bool {
	return i.Status == InviteUnredeemed && i.DomainID == domainID
}
