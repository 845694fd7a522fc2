// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedNetworks はオラクルのエンドポイントとして拒否するネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	// クラウドメタデータIP (169.254.169.254) を含む
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// ValidateOracleURL はオラクルのエンドポイントURLを起動時に検証する。
// allowPrivate が false の場合、ループバックやプライベートIPを指すURLを拒否する。
func ValidateOracleURL(rawURL string, allowPrivate bool) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// NewOracleHTTPClient はオラクル呼び出し用のHTTPクライアントを生成する。
// allowPrivate が false の場合はsafeurlでDNS解決後の接続先IPも検証し、
// エンドポイントのポートのみに接続を許可する。
// ローカル開発でオラクルを手元で動かす場合のみ allowPrivate を true にする。
func NewOracleHTTPClient(endpoint string, timeout time.Duration, allowPrivate bool) (*http.Client, error) {
	if err := ValidateOracleURL(endpoint, allowPrivate); err != nil {
		return nil, err
	}
	if allowPrivate {
		return &http.Client{Timeout: timeout}, nil
	}

	parsed, _ := url.Parse(endpoint)
	port, err := endpointPort(parsed)
	if err != nil {
		return nil, err
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(strings.ToLower(parsed.Scheme)).
		SetAllowedPorts(port).
		Build()
	return safeurl.Client(config).Client, nil
}

func endpointPort(u *url.URL) (int, error) {
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return 0, fmt.Errorf("invalid port: %q", p)
		}
		return n, nil
	}
	if strings.EqualFold(u.Scheme, "https") {
		return 443, nil
	}
	return 80, nil
}
