package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"meru/backend/internal/domain"
	"meru/backend/internal/storage"
)

// Store 使用内存保存域名、账户、邀请码与会话，主要用于开发验证与测试。
//
// 事务在副本上执行，提交时整体替换，同一时刻只有一个写事务，
// 因此等价于可串行化隔离。
type Store struct {
	mu sync.RWMutex
	st *state

	sessMu   sync.RWMutex
	sessions map[string]*domain.Session // tokenHash -> session
	byUser   map[string]string          // userID -> tokenHash
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		st:       newState(),
		sessions: make(map[string]*domain.Session),
		byUser:   make(map[string]string),
	}
}

// WithTx 在状态副本上执行 fn，成功时提交
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health(ctx context.Context) error {
	return ctx.Err()
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// ========== 非事务访问 ==========

// CreateDomain 创建域名
func (s *Store) CreateDomain(ctx context.Context, d *domain.MailDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateDomain(ctx, d)
}

// GetDomainByID 根据 ID 获取域名
func (s *Store) GetDomainByID(ctx context.Context, id string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetDomainByID(ctx, id)
}

// GetDomainByName 根据名称获取域名
func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetDomainByName(ctx, name)
}

// ListDomains 列出所有域名
func (s *Store) ListDomains(ctx context.Context) ([]domain.MailDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListDomains(ctx)
}

// CreateUser 创建用户
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateUser(ctx, user)
}

// GetUserByID 根据 ID 获取用户
func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetUserByID(ctx, id)
}

// GetUserByAddress 根据本地部分与域名获取用户
func (s *Store) GetUserByAddress(ctx context.Context, localPart, domainName string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetUserByAddress(ctx, localPart, domainName)
}

// UpdatePassword 更新密码哈希
func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdatePassword(ctx, userID, passwordHash, updatedAt)
}

// CreateAlias 创建别名
func (s *Store) CreateAlias(ctx context.Context, alias *domain.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateAlias(ctx, alias)
}

// IdentityExists 检查身份是否已被占用
func (s *Store) IdentityExists(ctx context.Context, domainID, localPart string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.IdentityExists(ctx, domainID, localPart)
}

// CreateInvite 保存邀请码
func (s *Store) CreateInvite(ctx context.Context, invite *domain.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateInvite(ctx, invite)
}

// FindRedeemableInvite 查找可兑换的邀请码
func (s *Store) FindRedeemableInvite(ctx context.Context, code, domainID string) (*domain.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.FindRedeemableInvite(ctx, code, domainID)
}

// RedeemInvite 兑换邀请码
func (s *Store) RedeemInvite(ctx context.Context, inviteID, userID string, consumedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RedeemInvite(ctx, inviteID, userID, consumedAt)
}

// GetInvite 根据 ID 获取邀请码（用于测试与管理工具）
func (s *Store) GetInvite(id string) (*domain.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.st.invites[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

// ========== Session Repository ==========

// ReplaceUserSession 删除用户旧会话并写入新会话
func (s *Store) ReplaceUserSession(_ context.Context, session *domain.Session) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	if _, exists := s.sessions[session.TokenHash]; exists {
		return storage.ErrDuplicate
	}
	if old, ok := s.byUser[session.UserID]; ok {
		delete(s.sessions, old)
	}
	cp := *session
	s.sessions[session.TokenHash] = &cp
	s.byUser[session.UserID] = session.TokenHash
	return nil
}

// GetSessionByTokenHash 根据令牌哈希获取会话
func (s *Store) GetSessionByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()

	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

// DeleteSessionByTokenHash 删除会话
func (s *Store) DeleteSessionByTokenHash(_ context.Context, tokenHash string) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	if session, ok := s.sessions[tokenHash]; ok {
		delete(s.sessions, tokenHash)
		if s.byUser[session.UserID] == tokenHash {
			delete(s.byUser, session.UserID)
		}
	}
	return nil
}

// DeleteUserSessions 删除用户的会话
func (s *Store) DeleteUserSessions(_ context.Context, userID string) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	if hash, ok := s.byUser[userID]; ok {
		delete(s.sessions, hash)
		delete(s.byUser, userID)
	}
	return nil
}

// DeleteSessionsCreatedBefore 删除创建时间早于 cutoff 的会话
func (s *Store) DeleteSessionsCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	var count int64
	for hash, session := range s.sessions {
		if session.CreatedAt.Before(cutoff) {
			delete(s.sessions, hash)
			if s.byUser[session.UserID] == hash {
				delete(s.byUser, session.UserID)
			}
			count++
		}
	}
	return count, nil
}

// SessionCount 返回当前会话数量
func (s *Store) SessionCount() int {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	return len(s.sessions)
}

// ========== 内部状态 ==========

type state struct {
	domains      map[string]*domain.MailDomain // domainID -> domain
	domainByName map[string]string             // name -> domainID
	users        map[string]*domain.User       // userID -> user
	userByAddr   map[string]string             // domainID/name -> userID
	aliases      map[string]*domain.Alias      // aliasID -> alias
	identities   map[string]struct{}           // domainID/localPart，用户与别名共用
	invites      map[string]*domain.Invite     // inviteID -> invite
	inviteByCode map[string]string             // code -> inviteID
}

var _ storage.Repositories = (*state)(nil)

func newState() *state {
	return &state{
		domains:      make(map[string]*domain.MailDomain),
		domainByName: make(map[string]string),
		users:        make(map[string]*domain.User),
		userByAddr:   make(map[string]string),
		aliases:      make(map[string]*domain.Alias),
		identities:   make(map[string]struct{}),
		invites:      make(map[string]*domain.Invite),
		inviteByCode: make(map[string]string),
	}
}

// clone 深拷贝状态，事务在副本上修改
func (st *state) clone() *state {
	cp := newState()
	for k, v := range st.domains {
		d := *v
		cp.domains[k] = &d
	}
	for k, v := range st.domainByName {
		cp.domainByName[k] = v
	}
	for k, v := range st.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range st.userByAddr {
		cp.userByAddr[k] = v
	}
	for k, v := range st.aliases {
		a := *v
		cp.aliases[k] = &a
	}
	for k := range st.identities {
		cp.identities[k] = struct{}{}
	}
	for k, v := range st.invites {
		inv := copyInvite(v)
		cp.invites[k] = inv
	}
	for k, v := range st.inviteByCode {
		cp.inviteByCode[k] = v
	}
	return cp
}

func identityKey(domainID, localPart string) string {
	return domainID + "/" + localPart
}

func copyInvite(inv *domain.Invite) *domain.Invite {
	cp := *inv
	if inv.RedeemedBy != nil {
		by := *inv.RedeemedBy
		cp.RedeemedBy = &by
	}
	if inv.ConsumedAt != nil {
		at := *inv.ConsumedAt
		cp.ConsumedAt = &at
	}
	return &cp
}

func (st *state) CreateDomain(_ context.Context, d *domain.MailDomain) error {
	if _, exists := st.domainByName[d.Name]; exists {
		return storage.ErrDuplicate
	}
	if _, exists := st.domains[d.ID]; exists {
		return storage.ErrDuplicate
	}
	cp := *d
	st.domains[d.ID] = &cp
	st.domainByName[d.Name] = d.ID
	return nil
}

func (st *state) GetDomainByID(_ context.Context, id string) (*domain.MailDomain, error) {
	d, ok := st.domains[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (st *state) GetDomainByName(ctx context.Context, name string) (*domain.MailDomain, error) {
	id, ok := st.domainByName[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return st.GetDomainByID(ctx, id)
}

func (st *state) ListDomains(_ context.Context) ([]domain.MailDomain, error) {
	out := make([]domain.MailDomain, 0, len(st.domains))
	for _, d := range st.domains {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (st *state) CreateUser(_ context.Context, user *domain.User) error {
	if _, ok := st.domains[user.DomainID]; !ok {
		return storage.ErrNotFound
	}
	key := identityKey(user.DomainID, user.Name)
	if _, taken := st.identities[key]; taken {
		return storage.ErrDuplicate
	}
	if _, exists := st.users[user.ID]; exists {
		return storage.ErrDuplicate
	}
	cp := *user
	st.users[user.ID] = &cp
	st.userByAddr[key] = user.ID
	st.identities[key] = struct{}{}
	return nil
}

func (st *state) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (st *state) GetUserByAddress(ctx context.Context, localPart, domainName string) (*domain.User, error) {
	domainID, ok := st.domainByName[domainName]
	if !ok {
		return nil, storage.ErrNotFound
	}
	userID, ok := st.userByAddr[identityKey(domainID, localPart)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return st.GetUserByID(ctx, userID)
}

func (st *state) UpdatePassword(_ context.Context, userID, passwordHash string, updatedAt time.Time) error {
	u, ok := st.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = updatedAt
	return nil
}

func (st *state) CreateAlias(_ context.Context, alias *domain.Alias) error {
	if _, ok := st.domains[alias.DomainID]; !ok {
		return storage.ErrNotFound
	}
	key := identityKey(alias.DomainID, alias.Source)
	if _, taken := st.identities[key]; taken {
		return storage.ErrDuplicate
	}
	cp := *alias
	st.aliases[alias.ID] = &cp
	st.identities[key] = struct{}{}
	return nil
}

func (st *state) IdentityExists(_ context.Context, domainID, localPart string) (bool, error) {
	_, taken := st.identities[identityKey(domainID, localPart)]
	return taken, nil
}

func (st *state) CreateInvite(_ context.Context, invite *domain.Invite) error {
	if _, exists := st.inviteByCode[invite.Code]; exists {
		return storage.ErrDuplicate
	}
	st.invites[invite.ID] = copyInvite(invite)
	st.inviteByCode[invite.Code] = invite.ID
	return nil
}

func (st *state) FindRedeemableInvite(_ context.Context, code, domainID string) (*domain.Invite, error) {
	id, ok := st.inviteByCode[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	inv := st.invites[id]
	if !inv.Redeemable(domainID) {
		return nil, storage.ErrNotFound
	}
	return copyInvite(inv), nil
}

func (st *state) RedeemInvite(_ context.Context, inviteID, userID string, consumedAt time.Time) error {
	inv, ok := st.invites[inviteID]
	if !ok || inv.Status != domain.InviteUnredeemed {
		return storage.ErrNotFound
	}
	inv.Status = domain.InviteRedeemed
	inv.RedeemedBy = &userID
	inv.ConsumedAt = &consumedAt
	return nil
}
