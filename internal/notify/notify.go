// Package notify 负责把邀请码投递给发起人。
//
// 投递是尽力而为的：失败不会回滚邀请码，只作为警告返回给调用方。
package notify

import (
	"context"

	"go.uber.org/zap"
)

// InviteNotice 一次邀请通知的内容
type InviteNotice struct {
	Recipient  string // 发起邀请的用户邮箱
	InviteCode string
	DomainID   string
	DeleteURL  string // 非本人操作时用于删除邀请码的链接
	SignupURL  string // 交给被邀请人的注册链接
}

// InviteNotifier 邀请通知投递接口
type InviteNotifier interface {
	NotifyInvite(ctx context.Context, notice InviteNotice) error
}

// LogNotifier 只记录日志的通知器，用于未配置 SMTP 的开发环境
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// NotifyInvite 记录通知（不记录邀请码本身）
func (n *LogNotifier) NotifyInvite(_ context.Context, notice InviteNotice) error {
	n.log.Info("invite notification skipped, smtp not configured",
		zap.String("recipient", notice.Recipient),
		zap.String("domain_id", notice.DomainID),
	)
	return nil
}
