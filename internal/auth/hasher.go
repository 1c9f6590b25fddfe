package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"meru/backend/internal/domain"
)

// 支持的密码哈希算法
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// argon2id 参数（OWASP 推荐值）
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32

	// 校验时允许的最大 m 参数（KiB），超出视为损坏的哈希
	argon2MaxMemory = 1 << 22
)

// bcryptMaxPassword bcrypt 只读取前 72 字节
const bcryptMaxPassword = 72

// ErrUnsupportedAlgorithm 未知的密码哈希算法
var ErrUnsupportedAlgorithm = errors.New("unsupported password hash algorithm")

// Hasher 密码哈希器
//
// Verify 对格式错误的哈希只返回 false，不返回错误。
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
	// Owns 判断编码后的哈希是否由该算法生成
	Owns(encoded string) bool
	// MaxPasswordLength 可哈希的最大字节数，0 表示不限
	MaxPasswordLength() int
}

// BcryptHasher 基于 bcrypt 的哈希器，盐值内嵌在编码结果中
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher 创建 bcrypt 哈希器，cost 非法时使用默认值
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash 哈希密码
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

// Verify 检查密码是否匹配，超过 72 字节的输入一律不匹配
func (h *BcryptHasher) Verify(password, encoded string) bool {
	if len(password) > bcryptMaxPassword {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
}

// MaxPasswordLength 返回 72
func (h *BcryptHasher) MaxPasswordLength() int { return bcryptMaxPassword }

// Owns 判断是否为 bcrypt 编码
func (h *BcryptHasher) Owns(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

// Argon2idHasher 基于 argon2id 的哈希器，输出 PHC 格式
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2idHasher struct{}

// NewArgon2idHasher 创建 argon2id 哈希器
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash 哈希密码
func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify 按编码中的参数重新计算并做常量时间比较
func (h *Argon2idHasher) Verify(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	if threads == 0 || threads > 255 || iterations == 0 || memory == 0 || memory > argon2MaxMemory {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 || len(expected) > 1024 {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// Owns 判断是否为 argon2id 编码
func (h *Argon2idHasher) Owns(encoded string) bool {
	return strings.HasPrefix(encoded, "$argon2id$")
}

// MaxPasswordLength argon2id 不限制密码长度
func (h *Argon2idHasher) MaxPasswordLength() int { return 0 }

// Codec 密码编解码器：用配置的算法生成哈希，校验时识别所有支持的算法
type Codec struct {
	primary Hasher
	known   []Hasher
}

// NewCodec 根据算法名创建编解码器
func NewCodec(algorithm string, bcryptCost int) (*Codec, error) {
	bc := NewBcryptHasher(bcryptCost)
	ar := NewArgon2idHasher()

	var primary Hasher
	switch strings.ToLower(algorithm) {
	case "", AlgorithmBcrypt:
		primary = bc
	case AlgorithmArgon2id:
		primary = ar
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	return &Codec{primary: primary, known: []Hasher{bc, ar}}, nil
}

// ValidatePassword 检查最小长度，主算法有上限时同时检查上限
func (c *Codec) ValidatePassword(password string) error {
	if err := domain.ValidatePassword(password); err != nil {
		return err
	}
	if limit := c.primary.MaxPasswordLength(); limit > 0 && len(password) > limit {
		return fmt.Errorf("%w: at most %d bytes allowed", domain.ErrWeakPassword, limit)
	}
	return nil
}

// Hash 使用主算法哈希密码，每次调用使用新的随机盐
func (c *Codec) Hash(password string) (string, error) {
	return c.primary.Hash(password)
}

// Verify 校验密码，未知或损坏的哈希返回 false
func (c *Codec) Verify(password, encoded string) bool {
	for _, h := range c.known {
		if h.Owns(encoded) {
			return h.Verify(password, encoded)
		}
	}
	return false
}

// NeedsUpgrade 判断哈希是否应按主算法重新生成
func (c *Codec) NeedsUpgrade(encoded string) bool {
	return !c.primary.Owns(encoded)
}
