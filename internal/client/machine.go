// Package client はウォレット認証のクライアント側の状態機械を提供する。
//
// intro → qr_issued → polling → (onboarding) → authenticated / error の遷移を管理し、
// ポーリングループとタイムアウトを1つのハンドルでまとめて取り消す。
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/walletauth/internal/model"
)

// Stage は認証セッションの段階。
type Stage string

const (
	StageIntro         Stage = "intro"
	StageQRIssued      Stage = "qr_issued"
	StagePolling       Stage = "polling"
	StageOnboarding    Stage = "onboarding"
	StageAuthenticated Stage = "authenticated"
	StageError         Stage = "error"
)

// MsgTimeout はタイムアウト時に表示するメッセージ。
const MsgTimeout = "Authentication timed out. Please try again."

const (
	defaultPollInterval = 3 * time.Second
	defaultAuthTimeout  = 5 * time.Minute
)

var (
	// ErrInvalidTransition は現在の段階では許可されない操作を表す。
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrClosed はClose後の操作を表す。
	ErrClosed = errors.New("machine closed")
)

// API は状態機械が呼び出す認証エンドポイント。
type API interface {
	IssueChallenge(ctx context.Context) (model.ChallengeResponse, error)
	VerifyChallenge(ctx context.Context, nonce string, data *model.NewUserData) (model.VerifyResponse, error)
}

// Config は状態機械の設定。
type Config struct {
	ContractID         string
	ReceiverAddress    string
	TokenID            string
	PollInterval       time.Duration
	Timeout            time.Duration
	MobileWalletScheme string
	EnableMobileWallet bool
	// Now はQRペイロードのタイムスタンプに使う。未設定なら time.Now。
	Now func() time.Time
	// OnChange は遷移のたびにロック外で呼ばれる。Close をこの中から呼んではならない。
	OnChange func(Snapshot)
}

// Profile はオンボーディングで入力するプロフィール。
// ウォレットアドレスは認証済みのものが使われる。
type Profile struct {
	AccountType model.AccountType
	FirstName   string
	LastName    string
	EntityName  string
	Email       string
	Role        string
}

func (p Profile) userData(address string) model.NewUserData {
	return model.NewUserData{
		WalletAddress: address,
		AccountType:   p.AccountType,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		EntityName:    p.EntityName,
		Email:         p.Email,
		Role:          p.Role,
	}
}

// Snapshot はある時点のセッションの状態。
type Snapshot struct {
	Stage         Stage
	Nonce         string
	WalletAddress string
	QRPayload     string
	MobileURI     string
	User          *model.User
	Token         string
	Err           error
}

// ErrorMessage は表示用のエラーメッセージを返す。
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

type session struct {
	stage     Stage
	nonce     string
	address   string
	qrPayload string
	mobileURI string
	user      *model.User
	token     string
	err       error
}

// pollHandle はポーリングループとタイムアウトの組。
// cancelAll で両方を同時に止める。running と armed は Machine.mu で保護する。
type pollHandle struct {
	cancel  context.CancelFunc
	timeout *time.Timer
	done    chan struct{}

	running bool
	armed   bool
}

// live はループとタイムアウトがそれぞれまだ生きているかを返す。
func (p *pollHandle) live() (loop, timer bool) {
	return p.running, p.armed
}

// Machine はクライアント側の認証状態機械。
type Machine struct {
	api    API
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	session session
	poll    *pollHandle
	// gen は Retry と Close で進み、実行中の呼び出しの結果を無効にする。
	gen    uint64
	closed bool
	// handles は終了していないループかタイムアウトを持つハンドル。
	// Retry で取り消されたループも終了するまで残り、Close はそのすべてを待つ。
	handles map[*pollHandle]struct{}
}

// New は intro 段階の Machine を生成する。
func New(api API, logger *slog.Logger, cfg Config) *Machine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAuthTimeout
	}
	if cfg.MobileWalletScheme == "" {
		cfg.MobileWalletScheme = DefaultMobileWalletScheme
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		api:     api,
		logger:  logger,
		cfg:     cfg,
		session: session{stage: StageIntro},
		handles: make(map[*pollHandle]struct{}),
	}
}

// Snapshot は現在の状態を返す。
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := m.session
	return Snapshot{
		Stage:         s.stage,
		Nonce:         s.nonce,
		WalletAddress: s.address,
		QRPayload:     s.qrPayload,
		MobileURI:     s.mobileURI,
		User:          s.user.Clone(),
		Token:         s.token,
		Err:           s.err,
	}
}

func (m *Machine) notify(s Snapshot) {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(s)
	}
}

// Start はチャレンジを発行して qr_issued に進む。
// 発行に失敗した場合は intro のままエラーを記録し、そのまま再試行できる。
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.session.stage != StageIntro {
		m.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, m.session.stage)
	}
	gen := m.gen
	m.mu.Unlock()

	resp, err := m.api.IssueChallenge(ctx)
	if err == nil && resp.Nonce == "" {
		msg := resp.Error
		if msg == "" {
			msg = "empty nonce"
		}
		err = fmt.Errorf("%w: %s", model.ErrOracleUnavailable, msg)
	}

	m.mu.Lock()
	if m.gen != gen || m.session.stage != StageIntro {
		m.mu.Unlock()
		return fmt.Errorf("%w: session changed during start", ErrInvalidTransition)
	}
	if err != nil {
		m.session.err = err
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.logger.Warn("failed to issue challenge", slog.String("error", err.Error()))
		m.notify(snap)
		return err
	}

	payload := BuildQRPayload(QRParams{
		ReceiverAddress: m.cfg.ReceiverAddress,
		TokenID:         m.cfg.TokenID,
		ContractID:      m.cfg.ContractID,
		Nonce:           resp.Nonce,
		Timestamp:       m.cfg.Now(),
	})
	m.session = session{
		stage:     StageQRIssued,
		nonce:     resp.Nonce,
		qrPayload: payload,
	}
	if m.cfg.EnableMobileWallet {
		m.session.mobileURI = MobileWalletURI(m.cfg.MobileWalletScheme, payload)
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

// ConfirmSigned はウォレットでの署名完了を受けて polling に進む。
// qr_issued 以外では ErrInvalidTransition を返すため、ループが二重に作られることはない。
func (m *Machine) ConfirmSigned() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.session.stage != StageQRIssued {
		stage := m.session.stage
		m.mu.Unlock()
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, stage)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pollHandle{cancel: cancel, done: make(chan struct{}), running: true, armed: true}
	m.handles[p] = struct{}{}
	p.timeout = time.AfterFunc(m.cfg.Timeout, func() { m.onTimeout(p) })
	go m.pollLoop(ctx, p, m.session.nonce)

	m.poll = p
	m.session.stage = StagePolling
	m.session.err = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

// cancelAll はループとタイムアウトを止める。ループの終了は待たない。
// m.mu を保持して呼ぶ。
func (m *Machine) cancelAll(p *pollHandle) {
	if p.timeout.Stop() {
		p.armed = false
		m.forgetLocked(p)
	}
	p.cancel()
}

// forgetLocked はループもタイムアウトも終わったハンドルを handles から外す。
func (m *Machine) forgetLocked(p *pollHandle) {
	if !p.running && !p.armed {
		delete(m.handles, p)
	}
}

func (m *Machine) pollLoop(ctx context.Context, p *pollHandle, nonce string) {
	defer func() {
		m.mu.Lock()
		p.running = false
		m.forgetLocked(p)
		m.mu.Unlock()
		close(p.done)
	}()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		resp, err := m.api.VerifyChallenge(ctx, nonce, nil)
		if ctx.Err() != nil {
			return
		}
		if m.handleTick(p, resp, err) {
			return
		}
	}
}

// handleTick は1回分の検証結果を反映する。ループを終了すべき場合 true を返す。
func (m *Machine) handleTick(p *pollHandle, resp model.VerifyResponse, err error) bool {
	m.mu.Lock()
	if m.poll != p {
		m.mu.Unlock()
		return true
	}

	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("verification request failed", slog.String("error", err.Error()))
		return false
	}

	switch {
	case resp.Code == model.ErrCodeCustomValidationFailed:
		m.finishPollLocked()
		m.session.stage = StageError
		m.session.err = responseError(resp)
	case !resp.Authenticated:
		m.mu.Unlock()
		return false
	case resp.User != nil:
		m.finishPollLocked()
		m.session.stage = StageAuthenticated
		m.session.address = resp.WalletAddress
		m.session.user = resp.User
		m.session.token = resp.Token
		m.session.err = nil
	default:
		m.finishPollLocked()
		m.session.stage = StageOnboarding
		m.session.address = resp.WalletAddress
		m.session.err = nil
		if resp.Error != "" {
			m.session.err = responseError(resp)
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	return true
}

func (m *Machine) finishPollLocked() {
	if m.poll != nil {
		m.cancelAll(m.poll)
		m.poll = nil
	}
}

func (m *Machine) onTimeout(p *pollHandle) {
	m.mu.Lock()
	p.armed = false
	m.forgetLocked(p)
	if m.poll != p {
		m.mu.Unlock()
		return
	}
	p.cancel()
	m.poll = nil
	m.session.stage = StageError
	m.session.err = fmt.Errorf("%w: %s", model.ErrTimeout, MsgTimeout)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("authentication timed out", slog.Duration("timeout", m.cfg.Timeout))
	m.notify(snap)
}

// SubmitOnboarding はプロフィールを検証し、認証済みアドレスでユーザーを作成する。
// 入力が不正な場合は通信せずに ValidationError を返す。
// 失敗しても onboarding のままで、エラーは Snapshot にも記録される。
func (m *Machine) SubmitOnboarding(ctx context.Context, profile Profile) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.session.stage != StageOnboarding {
		stage := m.session.stage
		m.mu.Unlock()
		return fmt.Errorf("%w: onboarding from %s", ErrInvalidTransition, stage)
	}
	gen := m.gen
	nonce := m.session.nonce
	data := profile.userData(m.session.address)
	m.mu.Unlock()

	if err := data.Validate(); err != nil {
		m.setOnboardingError(gen, err)
		return err
	}

	resp, err := m.api.VerifyChallenge(ctx, nonce, &data)
	if err == nil && (!resp.Authenticated || resp.User == nil) {
		err = responseError(resp)
	}
	if err != nil {
		m.setOnboardingError(gen, err)
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.session.stage != StageOnboarding {
		m.mu.Unlock()
		return fmt.Errorf("%w: session changed during onboarding", ErrInvalidTransition)
	}
	m.session.stage = StageAuthenticated
	m.session.user = resp.User
	m.session.token = resp.Token
	m.session.err = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

func (m *Machine) setOnboardingError(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.session.stage != StageOnboarding {
		m.mu.Unlock()
		return
	}
	m.session.err = err
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

// Retry は実行中のループとタイムアウトを取り消し、intro に戻す。
// nonce、QRペイロード、アドレス、エラーは破棄される。
func (m *Machine) Retry() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.finishPollLocked()
	m.gen++
	m.session = session{stage: StageIntro}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	return nil
}

// Close はループとタイムアウトを取り消し、ループの終了を待つ。
// 2回目以降の呼び出しは何もしない。
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	m.finishPollLocked()
	pending := make([]*pollHandle, 0, len(m.handles))
	for p := range m.handles {
		pending = append(pending, p)
	}
	m.mu.Unlock()

	for _, p := range pending {
		<-p.done
	}
	return nil
}
