package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meru/backend/internal/auth"
	"meru/backend/internal/domain"
	"meru/backend/internal/monitoring"
	"meru/backend/internal/notify"
	"meru/backend/internal/storage"
)

// InviteLinks 邀请邮件中的链接前缀
type InviteLinks struct {
	SignupURL string // 注册页面
	DeleteURL string // 非本人申请时的删除页面
}

// IssuedInvite 签发邀请的结果，邀请码本身只经由通知渠道下发
type IssuedInvite struct {
	Invite *domain.Invite
	// NotifyErr 通知投递失败时非空，不影响邀请码的有效性
	NotifyErr error
}

// Warning 返回通知失败的非致命警告
func (r *IssuedInvite) Warning() error {
	if r.NotifyErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrNotificationFailed, r.NotifyErr)
}

// InviteService 签发、查询与兑换邀请码
type InviteService struct {
	repo     storage.Repositories
	notifier notify.InviteNotifier
	links    InviteLinks
	now      func() time.Time
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// NewInviteService 创建邀请码服务
func NewInviteService(
	repo storage.Repositories,
	notifier notify.InviteNotifier,
	links InviteLinks,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *InviteService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InviteService{
		repo:     repo,
		notifier: notifier,
		links:    links,
		now:      time.Now,
		log:      log,
		metrics:  metrics,
	}
}

// CreateInvite 为指定域名生成一个未兑换的邀请码
func (s *InviteService) CreateInvite(ctx context.Context, issuerID, domainID string) (*domain.Invite, error) {
	code, err := auth.GenerateInviteCode()
	if err != nil {
		return nil, domain.StorageFailure("generate invite code", err)
	}

	invite := &domain.Invite{
		ID:        uuid.New().String(),
		Code:      code,
		DomainID:  domainID,
		IssuedBy:  issuerID,
		Status:    domain.InviteUnredeemed,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateInvite(ctx, invite); err != nil {
		return nil, classify("create invite", err)
	}

	s.metrics.RecordInviteIssued()
	return invite, nil
}

// FindRedeemable 在事务内查找可兑换的邀请码
//
// 已兑换、域名不符与不存在对调用方不可区分，均返回 ErrInvalidInvite。
func (s *InviteService) FindRedeemable(ctx context.Context, repo storage.InviteRepository, code, domainID string) (*domain.Invite, error) {
	if code == "" {
		return nil, domain.ErrInvalidInvite
	}
	invite, err := repo.FindRedeemableInvite(ctx, code, domainID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrInvalidInvite
	}
	if err != nil {
		return nil, classify("find invite", err)
	}
	if !invite.Redeemable(domainID) {
		return nil, domain.ErrInvalidInvite
	}
	return invite, nil
}

// Redeem 把邀请码标记为已兑换，只能在创建账户的同一事务中调用
func (s *InviteService) Redeem(ctx context.Context, repo storage.InviteRepository, invite *domain.Invite, userID string) error {
	consumedAt := s.now().UTC()
	err := repo.RedeemInvite(ctx, invite.ID, userID, consumedAt)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrInvalidInvite
	}
	if err != nil {
		return classify("redeem invite", err)
	}

	invite.Status = domain.InviteRedeemed
	invite.RedeemedBy = &userID
	invite.ConsumedAt = &consumedAt
	return nil
}

// IssueInvite 由现有用户凭邮箱申请邀请码，并把邀请链接发到该邮箱
//
// 邀请码创建在申请人所在的域名下。通知失败不会撤销邀请码，
// 而是通过 IssuedInvite.NotifyErr 作为警告返回。
func (s *InviteService) IssueInvite(ctx context.Context, email string) (*IssuedInvite, error) {
	localPart, domainName, ok := domain.SplitAddress(email)
	if !ok {
		return nil, domain.ErrUnknownIssuer
	}

	issuer, err := s.repo.GetUserByAddress(ctx, localPart, domainName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.ErrUnknownIssuer
	}
	if err != nil {
		return nil, classify("lookup issuer", err)
	}

	invite, err := s.CreateInvite(ctx, issuer.ID, issuer.DomainID)
	if err != nil {
		return nil, err
	}

	result := &IssuedInvite{Invite: invite}
	notice := notify.InviteNotice{
		Recipient:  issuer.Email(domainName),
		InviteCode: invite.Code,
		DomainID:   invite.DomainID,
		DeleteURL:  inviteLink(s.links.DeleteURL, invite),
		SignupURL:  inviteLink(s.links.SignupURL, invite),
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyInvite(ctx, notice); err != nil {
			s.metrics.RecordInviteNotifyFailure()
			s.log.Warn("failed to deliver invite notification",
				zap.String("invite_id", invite.ID),
				zap.String("issuer_id", issuer.ID),
				zap.Error(err),
			)
			result.NotifyErr = err
		}
	}

	s.log.Info("invite issued",
		zap.String("invite_id", invite.ID),
		zap.String("issuer_id", issuer.ID),
		zap.String("domain_id", invite.DomainID),
	)
	return result, nil
}

// inviteLink 在基础地址上附加 invite 与 domain 查询参数
func inviteLink(base string, invite *domain.Invite) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return "?" + inviteQuery(invite, nil).Encode()
	}
	u.RawQuery = inviteQuery(invite, u.Query()).Encode()
	return u.String()
}

func inviteQuery(invite *domain.Invite, q url.Values) url.Values {
	if q == nil {
		q = url.Values{}
	}
	q.Set("invite", invite.Code)
	q.Set("domain", invite.DomainID)
	return q
}
