package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"meru/backend/internal/auth"
	"meru/backend/internal/config"
	"meru/backend/internal/domain"
	"meru/backend/internal/health"
	"meru/backend/internal/middleware"
	"meru/backend/internal/monitoring"
	"meru/backend/internal/notify"
	"meru/backend/internal/service"
	"meru/backend/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// captureNotifier 记录邀请通知，fail 非空时模拟投递失败
type captureNotifier struct {
	mu      sync.Mutex
	notices []notify.InviteNotice
	fail    error
}

func (n *captureNotifier) NotifyInvite(_ context.Context, notice notify.InviteNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.fail
}

func (n *captureNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return ""
	}
	return n.notices[len(n.notices)-1].InviteCode
}

type apiFixture struct {
	router   *gin.Engine
	store    *memory.Store
	notifier *captureNotifier
	limiter  *middleware.LoginRateLimiter
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		Server:  config.ServerConfig{MaxBodyBytes: 1 << 20},
		Session: config.SessionConfig{TTL: 2 * time.Hour, CookieName: "meru_session"},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
	}

	store := memory.NewStore()
	codec, err := auth.NewCodec(auth.AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateDomain(ctx, &domain.MailDomain{ID: "d1", Name: "example.com", CreatedAt: time.Now().UTC()}))

	metrics := monitoring.NewMetrics()
	notifier := &captureNotifier{}
	sessions := auth.NewSessionManager(store, store, codec, auth.WithMetrics(metrics))
	domains := service.NewDomainService(store, nil)
	invites := service.NewInviteService(store, notifier, service.InviteLinks{
		SignupURL: "https://mail.example.com/signup",
		DeleteURL: "https://mail.example.com/delete",
	}, nil, metrics)
	accounts := service.NewAccountService(store, domains, invites, codec, sessions, nil, metrics)

	_, err = accounts.CreateAdmin(ctx, "root@example.com", "rootpassword1")
	require.NoError(t, err)

	limiter := middleware.NewLoginRateLimiter(600, 100, metrics, nil)
	t.Cleanup(limiter.Close)

	hc := health.NewHealthChecker(nil)
	hc.AddDependency("database", health.PingerFunc(store.Health))

	router, err := NewRouter(RouterDependencies{
		Config:         cfg,
		AccountService: accounts,
		InviteService:  invites,
		DomainService:  domains,
		AliasService:   service.NewAliasService(store, domains, nil),
		Sessions:       sessions,
		LoginLimiter:   limiter,
		Health:         hc,
		Metrics:        metrics,
	})
	require.NoError(t, err)

	return &apiFixture{router: router, store: store, notifier: notifier, limiter: limiter}
}

type call struct {
	method string
	path   string
	body   any
	token  string
	cookie *http.Cookie
}

func (f *apiFixture) do(t *testing.T, c call) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var resp Response
	if rec.Header().Get("Content-Type") != "" && json.Valid(rec.Body.Bytes()) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (f *apiFixture) login(t *testing.T, email, password string) string {
	t.Helper()
	rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/session", body: gin.H{"email": email, "password": password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, resp.OK)
	data := resp.Data.(map[string]any)
	return data["token"].(string)
}

// issueInvite 以 root 账户申请邀请码，返回通知中的邀请码
func (f *apiFixture) issueInvite(t *testing.T) string {
	t.Helper()
	rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/invite", body: gin.H{"email": "root@example.com"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, resp.OK)
	code := f.notifier.lastCode()
	require.Len(t, code, 40)
	return code
}

func TestAccountFlow(t *testing.T) {
	f := newAPIFixture(t)
	code := f.issueInvite(t)

	createBody := gin.H{"user": "Alice", "password": "longpassword1", "invite": code, "domain": "example.com"}

	t.Run("兑换邀请码创建账户", func(t *testing.T) {
		rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/account", body: createBody})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.True(t, resp.OK)
		assert.Equal(t, "alice@example.com", resp.Data.(map[string]any)["email"])
	})

	t.Run("重复兑换返回 InvalidInvite", func(t *testing.T) {
		body := gin.H{"user": "alice2", "password": "longpassword1", "invite": code, "domain": "example.com"}
		rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/account", body: body})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, resp.OK)
		assert.Equal(t, domain.KindInvalidInvite, resp.ErrorKind)
		assert.Equal(t, http.StatusBadRequest, resp.StatusHint)
	})

	t.Run("名称非法返回 InvalidName", func(t *testing.T) {
		body := gin.H{"user": "bad-name", "password": "longpassword1", "invite": f.issueInvite(t), "domain": "example.com"}
		_, resp := f.do(t, call{method: http.MethodPost, path: "/v1/account", body: body})
		assert.Equal(t, domain.KindInvalidName, resp.ErrorKind)
	})

	t.Run("空字段保留业务错误类别", func(t *testing.T) {
		invite := f.issueInvite(t)
		tests := []struct {
			name string
			path string
			body gin.H
			kind domain.ErrorKind
		}{
			{"空用户名", "/v1/account", gin.H{"user": "", "password": "longpassword1", "invite": invite, "domain": "example.com"}, domain.KindInvalidName},
			{"空密码", "/v1/account", gin.H{"user": "carol", "password": "", "invite": invite, "domain": "example.com"}, domain.KindWeakPassword},
			{"空域名", "/v1/account", gin.H{"user": "carol", "password": "longpassword1", "invite": invite, "domain": ""}, domain.KindUnknownDomain},
			{"空邀请码", "/v1/account", gin.H{"user": "carol", "password": "longpassword1", "invite": "", "domain": "example.com"}, domain.KindInvalidInvite},
			{"缺少全部字段", "/v1/account", gin.H{}, domain.KindInvalidName},
			{"登录空密码", "/v1/session", gin.H{"email": "root@example.com", "password": ""}, domain.KindInvalidCredentials},
			{"登录空邮箱", "/v1/session", gin.H{"email": "", "password": "rootpassword1"}, domain.KindInvalidCredentials},
			{"修改密码空新密码", "/v1/account/password", gin.H{"email": "root@example.com", "oldPassword": "rootpassword1", "newPassword": ""}, domain.KindWeakPassword},
			{"邀请空邮箱", "/v1/invite", gin.H{"email": ""}, domain.KindUnknownIssuer},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec, resp := f.do(t, call{method: http.MethodPost, path: tt.path, body: tt.body})
				assert.False(t, resp.OK)
				assert.Equal(t, tt.kind, resp.ErrorKind)
				assert.Equal(t, rec.Code, resp.StatusHint)
			})
		}

		stored, err := f.store.FindRedeemableInvite(context.Background(), invite, "d1")
		require.NoError(t, err)
		assert.Equal(t, domain.InviteUnredeemed, stored.Status)
	})

	t.Run("请求体格式错误返回 InvalidRequest", func(t *testing.T) {
		rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/account", body: "not an object"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, domain.KindInvalidRequest, resp.ErrorKind)
	})

	t.Run("修改密码后旧会话失效", func(t *testing.T) {
		token := f.login(t, "alice@example.com", "longpassword1")

		rec, _ := f.do(t, call{method: http.MethodPost, path: "/v1/account/password", body: gin.H{
			"email": "alice@example.com", "oldPassword": "longpassword1", "newPassword": "evenlongerpassword",
		}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec, _ = f.do(t, call{method: http.MethodGet, path: "/v1/me", token: token})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		f.login(t, "alice@example.com", "evenlongerpassword")
	})
}

func TestSessionFlow(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("登录写入 Cookie", func(t *testing.T) {
		rec, _ := f.do(t, call{method: http.MethodPost, path: "/v1/session", body: gin.H{"email": "root@example.com", "password": "rootpassword1"}})
		require.Equal(t, http.StatusOK, rec.Code)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "meru_session", cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.Len(t, cookies[0].Value, 64)

		rec, resp := f.do(t, call{method: http.MethodGet, path: "/v1/session", cookie: cookies[0]})
		require.Equal(t, http.StatusOK, rec.Code)
		status := resp.Data.(map[string]any)
		assert.Equal(t, true, status["authenticated"])
	})

	t.Run("错误密码与不存在的账户返回相同类别", func(t *testing.T) {
		_, wrong := f.do(t, call{method: http.MethodPost, path: "/v1/session", body: gin.H{"email": "root@example.com", "password": "wrongpassword"}})
		_, missing := f.do(t, call{method: http.MethodPost, path: "/v1/session", body: gin.H{"email": "ghost@example.com", "password": "wrongpassword"}})

		assert.Equal(t, domain.KindInvalidCredentials, wrong.ErrorKind)
		assert.Equal(t, wrong.ErrorKind, missing.ErrorKind)
		assert.Equal(t, wrong.Msg, missing.Msg)
		assert.Equal(t, http.StatusNotFound, wrong.StatusHint)
	})

	t.Run("再次登录使旧令牌失效", func(t *testing.T) {
		first := f.login(t, "root@example.com", "rootpassword1")
		second := f.login(t, "root@example.com", "rootpassword1")

		_, resp := f.do(t, call{method: http.MethodGet, path: "/v1/session", token: first})
		assert.Equal(t, false, resp.Data.(map[string]any)["authenticated"])

		rec, resp := f.do(t, call{method: http.MethodGet, path: "/v1/me", token: second})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "root@example.com", resp.Data.(map[string]any)["email"])
	})

	t.Run("登出后令牌失效且可重复登出", func(t *testing.T) {
		token := f.login(t, "root@example.com", "rootpassword1")

		rec, _ := f.do(t, call{method: http.MethodDelete, path: "/v1/session", token: token})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, _ = f.do(t, call{method: http.MethodGet, path: "/v1/me", token: token})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec, _ = f.do(t, call{method: http.MethodDelete, path: "/v1/session", token: token})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestInviteFlow(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("未知邮箱返回 UnknownIssuer", func(t *testing.T) {
		rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/invite", body: gin.H{"email": "ghost@example.com"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, domain.KindUnknownIssuer, resp.ErrorKind)
	})

	t.Run("通知失败时返回警告且邀请码仍可用", func(t *testing.T) {
		f.notifier.fail = errors.New("smtp unavailable")
		rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/invite", body: gin.H{"email": "root@example.com"}})
		f.notifier.fail = nil

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.OK)
		require.Len(t, resp.Warnings, 1)
		assert.Equal(t, domain.KindNotificationFailed, resp.Warnings[0].ErrorKind)
		assert.NotContains(t, rec.Body.String(), f.notifier.lastCode())

		rec, _ = f.do(t, call{method: http.MethodPost, path: "/v1/account", body: gin.H{
			"user": "dave", "password": "longpassword1", "invite": f.notifier.lastCode(), "domain": "d1",
		}})
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})
}

func TestAdminRoutes(t *testing.T) {
	f := newAPIFixture(t)
	adminToken := f.login(t, "root@example.com", "rootpassword1")

	t.Run("匿名访问返回 401", func(t *testing.T) {
		rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/admin/domains", body: gin.H{"name": "new.org"}})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, domain.KindUnauthorized, resp.ErrorKind)
	})

	t.Run("管理员添加域名并按 ID 查询", func(t *testing.T) {
		rec, resp := f.do(t, call{method: http.MethodPost, path: "/v1/admin/domains", body: gin.H{"name": "New.Org"}, token: adminToken})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		id := resp.Data.(map[string]any)["id"].(string)

		rec, resp = f.do(t, call{method: http.MethodGet, path: "/v1/domains/" + id})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "new.org", resp.Data.(map[string]any)["name"])
	})

	t.Run("未知域名返回 UnknownDomain", func(t *testing.T) {
		rec, resp := f.do(t, call{method: http.MethodGet, path: "/v1/domains/missing"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, domain.KindUnknownDomain, resp.ErrorKind)
	})

	t.Run("别名占用身份后注册返回 IdentityTaken", func(t *testing.T) {
		rec, _ := f.do(t, call{method: http.MethodPost, path: "/v1/admin/aliases", token: adminToken, body: gin.H{
			"domain": "example.com", "source": "postmaster", "destination": "root@example.com",
		}})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		_, resp := f.do(t, call{method: http.MethodPost, path: "/v1/account", body: gin.H{
			"user": "postmaster", "password": "longpassword1", "invite": f.issueInvite(t), "domain": "example.com",
		}})
		assert.Equal(t, domain.KindIdentityTaken, resp.ErrorKind)
	})
}

func TestOpsRoutes(t *testing.T) {
	f := newAPIFixture(t)

	rec, _ := f.do(t, call{method: http.MethodGet, path: "/health/ready"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "meru_http_requests_total")

	rec, resp := f.do(t, call{method: http.MethodGet, path: "/v1/nothing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.OK)
}
