package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hitoshi/walletauth/internal/client"
	"github.com/hitoshi/walletauth/internal/config"
	"github.com/hitoshi/walletauth/internal/model"
)

// runLogin はターミナルでウォレット認証を行う。
// サーバーの /api/auth を BASE_URL 経由で呼び出す。
func runLogin(cfg *config.Config, in io.Reader, out io.Writer, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.NewHTTPAPI(&http.Client{Timeout: cfg.OracleTimeout}, logger, cfg.BaseURL)
	_, err := login(ctx, api, client.Config{
		ContractID:         cfg.ContractID,
		ReceiverAddress:    cfg.ReceiverAddress,
		TokenID:            cfg.TokenID,
		PollInterval:       cfg.PollInterval,
		Timeout:            cfg.AuthTimeout,
		MobileWalletScheme: cfg.MobileWalletScheme,
		EnableMobileWallet: cfg.EnableMobileWallet,
	}, in, out, logger)
	return err
}

// login は状態機械を1回の認証完了まで進める。
// エラー段階に入った場合は再試行するかを尋ね、拒否されたらそのエラーを返す。
func login(ctx context.Context, api client.API, mcfg client.Config, in io.Reader, out io.Writer, logger *slog.Logger) (client.Snapshot, error) {
	changed := make(chan struct{}, 1)
	mcfg.OnChange = func(client.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	m := client.New(api, logger, mcfg)
	defer m.Close()

	p := newPrompter(ctx, in, out)

	for {
		if err := startChallenge(ctx, m, p, out); err != nil {
			return m.Snapshot(), err
		}

		snap, err := awaitResult(ctx, m, p, out, changed)
		if err != nil {
			return snap, err
		}
		if snap.Stage == client.StageAuthenticated {
			fmt.Fprintf(out, "\n認証が完了しました: %s\n", snap.WalletAddress)
			if snap.Token != "" {
				fmt.Fprintf(out, "セッショントークン: %s\n", snap.Token)
			}
			return snap, nil
		}

		// エラー段階から再試行する
		if err := m.Retry(); err != nil {
			return snap, err
		}
	}
}

// startChallenge はチャレンジを発行し、QRペイロードを表示して署名完了の入力を待つ。
func startChallenge(ctx context.Context, m *client.Machine, p *prompter, out io.Writer) error {
	for {
		err := m.Start(ctx)
		if err == nil {
			break
		}
		fmt.Fprintf(out, "チャレンジの発行に失敗しました: %v\n", err)
		if !client.IsRetryable(err) {
			return err
		}
		again, askErr := p.confirm(ctx, "再試行しますか?")
		if askErr != nil {
			return askErr
		}
		if !again {
			return err
		}
	}

	snap := m.Snapshot()
	fmt.Fprintln(out, "\nウォレットで次のトランザクションに署名してください。")
	fmt.Fprintf(out, "QRペイロード:\n  %s\n", snap.QRPayload)
	if snap.MobileURI != "" {
		fmt.Fprintf(out, "モバイルウォレット:\n  %s\n", snap.MobileURI)
	}

	if _, err := p.ask(ctx, "署名したらEnterを押してください"); err != nil {
		return err
	}
	if err := m.ConfirmSigned(); err != nil {
		return err
	}
	fmt.Fprintln(out, "署名を確認しています...")
	return nil
}

// awaitResult は authenticated か error に達するまで待つ。
// error 段階で再試行が選ばれた場合はエラーなしでその Snapshot を返す。
func awaitResult(ctx context.Context, m *client.Machine, p *prompter, out io.Writer, changed <-chan struct{}) (client.Snapshot, error) {
	for {
		snap := m.Snapshot()
		switch snap.Stage {
		case client.StageAuthenticated:
			return snap, nil
		case client.StageError:
			fmt.Fprintf(out, "認証に失敗しました: %s\n", snap.ErrorMessage())
			again, err := p.confirm(ctx, "最初からやり直しますか?")
			if err != nil {
				return snap, err
			}
			if !again {
				return snap, snap.Err
			}
			return snap, nil
		case client.StageOnboarding:
			if err := onboard(ctx, m, p, out, snap); err != nil {
				return m.Snapshot(), err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// onboard はプロフィールを入力させ、ユーザー作成が成功するまで繰り返す。
func onboard(ctx context.Context, m *client.Machine, p *prompter, out io.Writer, snap client.Snapshot) error {
	fmt.Fprintf(out, "\nウォレット %s は未登録です。プロフィールを入力してください。\n", snap.WalletAddress)
	if snap.Err != nil {
		fmt.Fprintf(out, "注意: %s\n", snap.ErrorMessage())
	}

	for {
		profile, err := readProfile(ctx, p)
		if err != nil {
			return err
		}

		err = m.SubmitOnboarding(ctx, profile)
		if err == nil {
			return nil
		}
		if errors.Is(err, client.ErrInvalidTransition) || errors.Is(err, client.ErrClosed) {
			return err
		}

		fmt.Fprintf(out, "登録に失敗しました: %v\n", err)
		if client.IsRetryable(err) {
			fmt.Fprintln(out, "しばらく待ってから再度入力してください。")
		}
	}
}

type profileField struct {
	label string
	dst   *string
}

func readProfile(ctx context.Context, p *prompter) (client.Profile, error) {
	var profile client.Profile

	kind, err := p.ask(ctx, "アカウント種別 (human/entity) [human]")
	if err != nil {
		return profile, err
	}
	profile.AccountType = model.AccountType(strings.ToLower(kind))
	if profile.AccountType == "" {
		profile.AccountType = model.AccountTypeHuman
	}

	var fields []profileField
	if profile.AccountType == model.AccountTypeEntity {
		fields = append(fields, profileField{"組織名", &profile.EntityName})
	} else {
		fields = append(fields,
			profileField{"名", &profile.FirstName},
			profileField{"姓", &profile.LastName},
		)
	}
	fields = append(fields,
		profileField{"メールアドレス", &profile.Email},
		profileField{"ロール (空欄で既定)", &profile.Role},
	)

	for _, f := range fields {
		v, err := p.ask(ctx, f.label)
		if err != nil {
			return profile, err
		}
		*f.dst = v
	}
	return profile, nil
}

// prompter はターミナルからの行入力を読む。
// 読み取りは別goroutineで行い、シグナルによるキャンセルで待ちを抜けられるようにする。
type prompter struct {
	out   io.Writer
	lines chan string
}

func newPrompter(ctx context.Context, in io.Reader, out io.Writer) *prompter {
	p := &prompter{out: out, lines: make(chan string)}
	go func() {
		defer close(p.lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case p.lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return p
}

// ask はラベルを表示して1行読む。入力が尽きた場合は io.EOF を返す。
func (p *prompter) ask(ctx context.Context, label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

func (p *prompter) confirm(ctx context.Context, label string) (bool, error) {
	ans, err := p.ask(ctx, label+" [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
