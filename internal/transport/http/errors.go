package httptransport

import "meru/backend/internal/domain"

// 错误类别 -> 中文消息
//
// 凭证错误不区分邮箱与密码，身份占用不区分用户与别名。
var kindMessages = map[domain.ErrorKind]string{
	domain.KindInvalidName:        "名称只能包含小写字母、数字、点和下划线",
	domain.KindWeakPassword:       "密码长度不符合要求",
	domain.KindUnknownDomain:      "域名不存在",
	domain.KindIdentityTaken:      "该地址已被占用",
	domain.KindInvalidInvite:      "邀请码无效或已被使用",
	domain.KindInvalidCredentials: "邮箱或密码错误",
	domain.KindStorageError:       MsgInternalError,
	domain.KindNotificationFailed: "邀请已创建，但通知邮件发送失败",
	domain.KindUnknownIssuer:      "邮箱不存在",
	domain.KindInvalidRequest:     MsgInvalidRequest,
	domain.KindUnauthorized:       "需要登录认证",
	domain.KindForbidden:          "权限不足",
	domain.KindRateLimited:        "请求过于频繁，请稍后再试",
}

// KindMessage 获取错误类别的中文消息
func KindMessage(kind domain.ErrorKind) string {
	if msg, ok := kindMessages[kind]; ok {
		return msg
	}
	return MsgInternalError
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgRouteNotFound  = "接口不存在"
	MsgInternalError  = "服务器内部错误，请稍后重试"
)
