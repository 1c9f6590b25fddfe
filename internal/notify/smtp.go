package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"strings"
	"text/template"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// ErrInvalidRecipient 收件人地址包含非法字符
var ErrInvalidRecipient = errors.New("invalid recipient address")

var inviteTemplate = template.Must(template.New("invite").Parse(`From: {{.From}}
To: {{.To}}
Subject: {{.Subject}}
Date: {{.Date}}
Message-ID: <{{.MessageID}}>
MIME-Version: 1.0
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: 8bit

Someone has requested an invite code with your address.
If this was not you, please go here: {{.DeleteURL}} to remove it.

If it was you, please provide the link below to the person who wants to signup.
Please recall that this works on a system of trust. Only invite a person whom you
feel sure will not abuse the service. Spam will not be tolerated.
{{.SignupURL}}

Best,
{{.Signature}}
`))

// SMTPConfig SMTP 投递配置
type SMTPConfig struct {
	Addr      string        // 服务器地址，格式 "host:port"
	Username  string        // 留空表示不认证
	Password  string
	From      string        // 发件人地址
	Subject   string        // 邮件主题
	Signature string        // 邮件落款
	HeloName  string        // EHLO 使用的主机名
	Timeout   time.Duration // 连接与整体投递超时
	// StartTLS 要求服务器支持 STARTTLS，握手失败时不投递
	StartTLS bool
	// InsecureSkipVerify 跳过 STARTTLS 证书校验，仅用于测试环境
	InsecureSkipVerify bool
}

// SMTPNotifier 通过 SMTP 投递邀请邮件
type SMTPNotifier struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPNotifier 创建 SMTP 通知器
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	return &SMTPNotifier{cfg: cfg, now: time.Now}
}

// NotifyInvite 发送邀请邮件
func (n *SMTPNotifier) NotifyInvite(ctx context.Context, notice InviteNotice) error {
	if strings.ContainsAny(notice.Recipient, "\r\n<>") || !strings.Contains(notice.Recipient, "@") {
		return ErrInvalidRecipient
	}

	body, err := n.render(notice)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", n.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := n.newClient(conn)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Hello(n.cfg.HeloName); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}

	if n.cfg.Username != "" {
		auth := sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.SendMail(n.cfg.From, []string{notice.Recipient}, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return client.Quit()
}

// newClient 按配置建立明文或 STARTTLS 会话
func (n *SMTPNotifier) newClient(conn net.Conn) (*gosmtp.Client, error) {
	if !n.cfg.StartTLS {
		return gosmtp.NewClient(conn), nil
	}

	host, _, _ := net.SplitHostPort(n.cfg.Addr)
	tlsConfig := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: n.cfg.InsecureSkipVerify, //nolint:gosec // 仅测试环境开启
	}
	client, err := gosmtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("smtp starttls: %w", err)
	}
	return client, nil
}

// render 渲染邮件原文
func (n *SMTPNotifier) render(notice InviteNotice) ([]byte, error) {
	domainPart := "localhost"
	if at := strings.LastIndex(n.cfg.From, "@"); at >= 0 {
		domainPart = n.cfg.From[at+1:]
	}

	var buf bytes.Buffer
	err := inviteTemplate.Execute(&buf, map[string]string{
		"From":      n.cfg.From,
		"To":        notice.Recipient,
		"Subject":   mime.QEncoding.Encode("utf-8", n.cfg.Subject),
		"Date":      n.now().Format(time.RFC1123Z),
		"MessageID": uuid.New().String() + "@" + domainPart,
		"DeleteURL": notice.DeleteURL,
		"SignupURL": notice.SignupURL,
		"Signature": n.cfg.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("render invite mail: %w", err)
	}
	return buf.Bytes(), nil
}
