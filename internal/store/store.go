// Package store はウォレットアドレスをキーとする暗号化ユーザーストアを提供する。
//
// 全レコードをメモリ上に保持し、変更操作のたびに暗号化したコンテナを
// Mediumへ書き出す（write-through）。プロセス内のインスタンスは Shared で1つに保つ。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/walletauth/internal/model"
)

const containerVersion = 1

type lifecycle int

const (
	stateNew lifecycle = iota
	stateReady
	stateClosed
)

// Options はStoreの構成を表す。
type Options struct {
	Medium        Medium
	EncryptionKey string
	// Container はコンテナ名。鍵導出と認証付きデータに使う。既定は "users"。
	Container string
	Roles     *model.RoleSet
	Logger    *slog.Logger
	Now       func() time.Time
}

// Store はユーザーレコードの暗号化ストア。
// 読み取りは並行に行えるが、書き込みは1つずつ直列化される。
type Store struct {
	medium    Medium
	key       string
	container string
	roles     *model.RoleSet
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	state   lifecycle
	sealer  *sealer
	records map[string]*model.User
}

// containerDoc は暗号化前のコンテナ本体。
type containerDoc struct {
	Version int                    `json:"version"`
	Users   map[string]*model.User `json:"users"`
}

// New は新しいStoreを生成する。Initializeを呼ぶまで操作はできない。
func New(opts Options) *Store {
	if opts.Container == "" {
		opts.Container = "users"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		medium:    opts.Medium,
		key:       opts.EncryptionKey,
		container: opts.Container,
		roles:     opts.Roles,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

var (
	sharedOnce sync.Once
	shared     *Store
)

// Shared はプロセス全体で共有するStoreを返す。
// 最初の呼び出しのOptionsで生成され、以降の呼び出しのOptionsは無視される。
func Shared(opts Options) *Store {
	sharedOnce.Do(func() {
		shared = New(opts)
	})
	return shared
}

// Initialize はコンテナを読み込んで復号する。初期化済みなら何もしない。
// コンテナが存在しない場合は空のコンテナを作成する。
// 鍵が無い、不正、またはコンテナと一致しない場合は ErrStorageUnavailable を返す。
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateReady:
		return nil
	case stateClosed:
		return model.ErrStorageClosed
	}

	if s.medium == nil {
		return fmt.Errorf("%w: no storage medium configured", model.ErrStorageUnavailable)
	}
	if s.roles == nil {
		return fmt.Errorf("%w: role set is not configured", model.ErrStorageUnavailable)
	}

	sl, err := newSealer(s.key, s.container)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}

	records := make(map[string]*model.User)
	data, err := s.medium.Load(ctx)
	switch {
	case errors.Is(err, ErrContainerNotFound):
		if err := s.write(ctx, sl, records); err != nil {
			return err
		}
		s.logger.Info("user store container created", slog.String("container", s.container))
	case err != nil:
		return fmt.Errorf("%w: load container: %w", model.ErrStorageUnavailable, err)
	default:
		plaintext, err := sl.open(data)
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
		}
		var doc containerDoc
		if err := json.Unmarshal(plaintext, &doc); err != nil {
			return fmt.Errorf("%w: decode container: %w", model.ErrStorageUnavailable, err)
		}
		for addr, u := range doc.Users {
			if u != nil {
				records[addr] = u
			}
		}
	}

	s.sealer = sl
	s.records = records
	s.state = stateReady

	s.logger.Info("user store initialized",
		slog.String("container", s.container),
		slog.Int("records", len(records)),
	)
	return nil
}

// Find はアドレスに対応するレコードのコピーを返す。存在しない場合は nil, nil。
func (s *Store) Find(ctx context.Context, walletAddress string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.records[normalizeAddress(walletAddress)].Clone(), nil
}

// List は全レコードをアドレス順で返す。
func (s *Store) List(ctx context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.usable(); err != nil {
		return nil, err
	}
	users := make([]*model.User, 0, len(s.records))
	for _, u := range s.records {
		users = append(users, u.Clone())
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].WalletAddress < users[j].WalletAddress
	})
	return users, nil
}

// Create は新しいレコードを作成する。
// アドレスが既に存在する場合は ErrDuplicateKey、入力が不正な場合は ValidationError を返す。
func (s *Store) Create(ctx context.Context, data model.NewUserData) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	u, err := data.NewUser(s.roles)
	if err != nil {
		return nil, err
	}
	if _, exists := s.records[u.WalletAddress]; exists {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateKey, u.WalletAddress)
	}
	u.CreatedAt = s.now().UTC().Round(0)

	s.records[u.WalletAddress] = u
	if err := s.persist(ctx); err != nil {
		delete(s.records, u.WalletAddress)
		return nil, err
	}
	return u.Clone(), nil
}

// Update は指定フィールドのみを置き換える。レコードが無い場合は nil, nil。
func (s *Store) Update(ctx context.Context, walletAddress string, patch model.UserPatch) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return nil, err
	}

	addr := normalizeAddress(walletAddress)
	current, ok := s.records[addr]
	if !ok {
		return nil, nil
	}
	next, err := patch.Apply(current, s.roles)
	if err != nil {
		return nil, err
	}

	s.records[addr] = next
	if err := s.persist(ctx); err != nil {
		s.records[addr] = current
		return nil, err
	}
	return next.Clone(), nil
}

// Delete はレコードを削除し、存在していたかどうかを返す。
func (s *Store) Delete(ctx context.Context, walletAddress string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usable(); err != nil {
		return false, err
	}

	addr := normalizeAddress(walletAddress)
	current, ok := s.records[addr]
	if !ok {
		return false, nil
	}

	delete(s.records, addr)
	if err := s.persist(ctx); err != nil {
		s.records[addr] = current
		return false, err
	}
	return true, nil
}

// Close はMediumを解放する。以降の操作は ErrStorageClosed を返す。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	s.records = nil
	if s.medium == nil {
		return nil
	}
	return s.medium.Close()
}

// Ping はストアが操作可能かどうかを返す。ヘルスチェック用。
func (s *Store) Ping() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usable()
}

func (s *Store) usable() error {
	switch s.state {
	case stateReady:
		return nil
	case stateClosed:
		return model.ErrStorageClosed
	default:
		return fmt.Errorf("%w: store is not initialized", model.ErrStorageUnavailable)
	}
}

// persist は現在のメモリ上の状態をコンテナに書き出す。呼び出し側がmuを保持すること。
func (s *Store) persist(ctx context.Context) error {
	if err := s.write(ctx, s.sealer, s.records); err != nil {
		s.logger.Error("failed to persist user store",
			slog.String("container", s.container),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (s *Store) write(ctx context.Context, sl *sealer, records map[string]*model.User) error {
	plaintext, err := json.Marshal(containerDoc{Version: containerVersion, Users: records})
	if err != nil {
		return fmt.Errorf("%w: encode container: %w", model.ErrStorageUnavailable, err)
	}
	sealed, err := sl.seal(plaintext)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}
	if err := s.medium.Save(ctx, sealed); err != nil {
		return fmt.Errorf("%w: save container: %w", model.ErrStorageUnavailable, err)
	}
	return nil
}

func normalizeAddress(addr string) string {
	return strings.TrimSpace(addr)
}
