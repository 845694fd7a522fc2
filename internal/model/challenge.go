package model

// ChallengeResponse はチャレンジ発行APIのレスポンス。
// 発行に失敗した場合 Nonce は空文字列になる。
type ChallengeResponse struct {
	Nonce string `json:"nonce"`
	Error string `json:"error,omitempty"`
}

// VerifyRequest はチャレンジ検証APIのリクエスト。
type VerifyRequest struct {
	Nonce       string       `json:"nonce"`
	NewUserData *NewUserData `json:"new_user_data,omitempty"`
}

// VerifyResponse はチャレンジ検証APIのレスポンス。
// Authenticated が true でも User が nil の場合はオンボーディングが必要であることを示す。
type VerifyResponse struct {
	Authenticated bool   `json:"authenticated"`
	WalletAddress string `json:"wallet_address,omitempty"`
	User          *User  `json:"user,omitempty"`
	Token         string `json:"token,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
}

// RolesResponse はロール一覧APIのレスポンス。
type RolesResponse struct {
	Roles       []string `json:"roles"`
	DefaultRole string   `json:"default_role"`
}
