package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// 令牌长度
const (
	SessionTokenBytes = 32 // 64 个十六进制字符
	InviteCodeBytes   = 20 // 160 位熵，40 个十六进制字符
)

// GenerateSessionToken 生成会话令牌及其哈希
//
// 明文令牌交给客户端，数据库只保存哈希。
func GenerateSessionToken() (token, hash string, err error) {
	token, err = randomHex(SessionTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate session token: %w", err)
	}
	return token, HashSessionToken(token), nil
}

// HashSessionToken 计算会话令牌的 SHA-256
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateInviteCode 生成小写十六进制邀请码
func GenerateInviteCode() (string, error) {
	code, err := randomHex(InviteCodeBytes)
	if err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	return code, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
