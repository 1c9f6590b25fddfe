package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// 验证常量
const (
	MaxNameLength   = 100 // 本地部分最大长度
	MaxDomainLength = 253 // 域名最大长度

	MinPasswordLength = 8
)

// NormalizeName 规范化本地部分：去除首尾空白并转为小写
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeDomain 规范化域名
func NormalizeDomain(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// ValidateName 验证已规范化的本地部分
//
// 拒绝空值、包含 "@" 或 "-"、超过 100 字符，以及无法按邮件地址语法解析的名字。
// 转义后的 "@" 在语法上合法，但这里同样拒绝。
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, "@-") {
		return fmt.Errorf("%w: name must not contain '@' or '-'", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidName, MaxNameLength)
	}

	// 借用一个占位域名，让标准库按 addr-spec 语法检查本地部分
	addr, err := mail.ParseAddress(name + "@example.invalid")
	if err != nil || addr.Name != "" || addr.Address != name+"@example.invalid" {
		return fmt.Errorf("%w: not a valid mailbox local part", ErrInvalidName)
	}
	return nil
}

// ValidatePassword 验证密码最小长度（不做字典强度检查）
//
// 哈希算法自身的长度上限由 auth.Codec.ValidatePassword 检查。
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, MinPasswordLength)
	}
	return nil
}

// ValidateDomainName 验证域名格式
func ValidateDomainName(name string) error {
	if name == "" || len(name) > MaxDomainLength {
		return fmt.Errorf("%w: invalid domain name", ErrInvalidRequest)
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("%w: invalid domain name", ErrInvalidRequest)
		}
		for _, r := range label {
			if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
				return fmt.Errorf("%w: invalid domain name", ErrInvalidRequest)
			}
		}
	}
	return nil
}

// SplitAddress 把完整邮箱地址拆分为规范化的本地部分与域名
func SplitAddress(email string) (localPart, domainName string, ok bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	localPart, domainName = email[:at], email[at+1:]
	if strings.Contains(localPart, "@") {
		return "", "", false
	}
	return localPart, NormalizeDomain(domainName), true
}
