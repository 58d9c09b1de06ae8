package server

import (
	"context"
	"errors"

	"snakepay/ledger"
)

var ErrNotSignedIn = errors.New("not signed in")

// User 登录用户（Google 登录后由外部会话层提供）
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	AuthToken   string `json:"-"`
}

// Identity 账本中的身份
func (u *User) Identity() ledger.Identity {
	return ledger.Identity(u.ID)
}

// AuthService 外部认证服务：未登录时返回 (nil, nil)
type AuthService interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// StaticAuth 固定用户，用于 WebSocket 连接（身份已由上游校验）与离线客户端
type StaticAuth struct {
	User *User
}

func (a StaticAuth) CurrentUser(context.Context) (*User, error) {
	return a.User, nil
}
