package client

import (
	"net/url"
	"strings"
	"time"
)

// qrTimestampLayout はミリ秒精度・UTCのISO-8601形式。
const qrTimestampLayout = "2006-01-02T15:04:05.000Z"

// DefaultMobileWalletScheme はモバイルウォレットのディープリンクの既定スキーム。
const DefaultMobileWalletScheme = "zerowallet://"

// QRParams はQRペイロードの構成要素。
type QRParams struct {
	ReceiverAddress string
	TokenID         string
	ContractID      string
	Nonce           string
	Timestamp       time.Time
}

// BuildQRPayload はウォレットで読み取るトランザクション意図の文字列を組み立てる。
// 値はエスケープせずにそのまま埋め込む。transactionDetails のみカンマを含む。
func BuildQRPayload(p QRParams) string {
	fields := []string{
		"amount=0",
		"recipientAddress=" + p.ReceiverAddress,
		"senderAddress=customer_",
		"timestamp=" + p.Timestamp.UTC().Format(qrTimestampLayout),
		"tokenId=" + p.TokenID,
		"transactionCost=0",
		"transactionDetails=smart_contract_auth_" + p.ContractID + ",nonce_" + p.Nonce,
		"transactionId=transaction_",
	}
	return strings.Join(fields, ",")
}

// MobileWalletURI はペイロードをウォレットアプリで直接開くためのURIを返す。
func MobileWalletURI(scheme, payload string) string {
	if scheme == "" {
		scheme = DefaultMobileWalletScheme
	}
	return scheme + "authenticate?" + url.QueryEscape(payload)
}
