package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record 方法对 nil 接收者安全，未启用监控时可直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 账户指标
	AccountsCreated  prometheus.Counter
	AccountsRejected *prometheus.CounterVec
	PasswordsChanged prometheus.Counter

	// 邀请码指标
	InvitesIssued        prometheus.Counter
	InviteNotifyFailures prometheus.Counter

	// 会话指标
	Logins             *prometheus.CounterVec
	SessionValidations *prometheus.CounterVec
	SessionsSwept      prometheus.Counter

	// 错误指标
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，注册到独立的注册表
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meru_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meru_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		AccountsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "meru_accounts_created_total",
			Help: "Total number of accounts provisioned through invites",
		}),
		AccountsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meru_accounts_rejected_total",
				Help: "Total number of rejected account creations by error kind",
			},
			[]string{"kind"},
		),
		PasswordsChanged: factory.NewCounter(prometheus.CounterOpts{
			Name: "meru_passwords_changed_total",
			Help: "Total number of password changes",
		}),

		InvitesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "meru_invites_issued_total",
			Help: "Total number of invites issued",
		}),
		InviteNotifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meru_invite_notify_failures_total",
			Help: "Total number of invite notifications that could not be delivered",
		}),

		Logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meru_logins_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"},
		),
		SessionValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meru_session_validations_total",
				Help: "Total number of session validations by result",
			},
			[]string{"result"},
		),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "meru_sessions_swept_total",
			Help: "Total number of stale sessions removed by the sweeper",
		}),

		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "meru_panics_total",
			Help: "Total number of recovered panics",
		}),
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meru_rate_limit_blocks_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAccountCreated 记录账户创建成功
func (m *Metrics) RecordAccountCreated() {
	if m == nil {
		return
	}
	m.AccountsCreated.Inc()
}

// RecordAccountRejected 记录账户创建失败
func (m *Metrics) RecordAccountRejected(kind string) {
	if m == nil {
		return
	}
	m.AccountsRejected.WithLabelValues(kind).Inc()
}

// RecordPasswordChanged 记录密码修改
func (m *Metrics) RecordPasswordChanged() {
	if m == nil {
		return
	}
	m.PasswordsChanged.Inc()
}

// RecordInviteIssued 记录邀请码签发
func (m *Metrics) RecordInviteIssued() {
	if m == nil {
		return
	}
	m.InvitesIssued.Inc()
}

// RecordInviteNotifyFailure 记录邀请通知失败
func (m *Metrics) RecordInviteNotifyFailure() {
	if m == nil {
		return
	}
	m.InviteNotifyFailures.Inc()
}

// RecordLogin 记录登录结果
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

// RecordSessionValidation 记录会话校验结果
func (m *Metrics) RecordSessionValidation(result string) {
	if m == nil {
		return
	}
	m.SessionValidations.WithLabelValues(result).Inc()
}

// RecordSessionsSwept 记录清理的过期会话数量
func (m *Metrics) RecordSessionsSwept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(count))
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拦截
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// Registry 返回底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
