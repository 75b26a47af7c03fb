package repository

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/mmeshcher/redio/internal/address"
	"github.com/mmeshcher/redio/internal/model"
	"github.com/mmeshcher/redio/internal/token"
)

// MemoryRepository хранит состояние в памяти процесса.
// Транзакции сериализуются одним мьютексом, изменения применяются только при успешном завершении.
type MemoryRepository struct {
	mu    sync.Mutex
	state memState
}

type memEvent struct {
	event     model.Event
	delivered bool
}

type memState struct {
	pools      map[address.Address]model.MerchantPool
	affiliates map[address.Address]model.AffiliateAccount
	accounts   map[address.Address]token.Account
	events     []memEvent
	seq        int64
}

// clone копирует изменяемые записи. Журнал уведомлений только дополняется,
// поэтому транзакция копит новые уведомления отдельно, см. memTx.appended.
func (s memState) clone() memState {
	return memState{
		pools:      maps.Clone(s.pools),
		affiliates: maps.Clone(s.affiliates),
		accounts:   maps.Clone(s.accounts),
		events:     s.events,
		seq:        s.seq,
	}
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: memState{
			pools:      make(map[address.Address]model.MerchantPool),
			affiliates: make(map[address.Address]model.AffiliateAccount),
			accounts:   make(map[address.Address]token.Account),
		},
	}
}

// Close ничего не освобождает и существует для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// WithinTx выполняет fn над копией состояния и применяет её, если fn завершилась без ошибки.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := r.state.clone()
	tx := &memTx{state: &staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	staged.events = append(r.state.events, tx.appended...)
	r.state = staged
	return nil
}

// GetPool возвращает пул по адресу.
func (r *MemoryRepository) GetPool(_ context.Context, addr address.Address) (*model.MerchantPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.state.pools[addr]
	if !ok {
		return nil, model.ErrPoolNotFound
	}
	return &p, nil
}

// GetAffiliate возвращает аффилиата по адресу.
func (r *MemoryRepository) GetAffiliate(_ context.Context, addr address.Address) (*model.AffiliateAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.state.affiliates[addr]
	if !ok {
		return nil, model.ErrAffiliateNotFound
	}
	return &a, nil
}

// ListAffiliates возвращает аффилиатов пула в порядке регистрации.
func (r *MemoryRepository) ListAffiliates(_ context.Context, pool address.Address) ([]model.AffiliateAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.AffiliateAccount
	for _, a := range r.state.affiliates {
		if a.Pool == pool {
			res = append(res, a)
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return bytes.Compare(res[i].Address[:], res[j].Address[:]) < 0
	})

	return res, nil
}

// GetTokenAccount возвращает токен-счёт по адресу.
func (r *MemoryRepository) GetTokenAccount(_ context.Context, addr address.Address) (*token.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.state.accounts[addr]
	if !ok {
		return nil, token.ErrAccountNotFound
	}
	return &acc, nil
}

// ListEvents возвращает уведомления пула с номером больше afterSeq.
func (r *MemoryRepository) ListEvents(_ context.Context, pool address.Address, afterSeq int64, limit int) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit = normalizeLimit(limit)

	var res []model.Event
	for _, e := range r.state.events {
		if e.event.Pool != pool || e.event.Seq <= afterSeq {
			continue
		}
		res = append(res, e.event)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

// PendingEvents возвращает недоставленные уведомления в порядке записи.
func (r *MemoryRepository) PendingEvents(_ context.Context, limit int) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit = normalizeLimit(limit)

	var res []model.Event
	for _, e := range r.state.events {
		if e.delivered {
			continue
		}
		res = append(res, e.event)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

// MarkEventsDelivered отмечает уведомления доставленными.
func (r *MemoryRepository) MarkEventsDelivered(_ context.Context, seqs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := make(map[int64]struct{}, len(seqs))
	for _, s := range seqs {
		marked[s] = struct{}{}
	}
	for i := range r.state.events {
		if _, ok := marked[r.state.events[i].event.Seq]; ok {
			r.state.events[i].delivered = true
		}
	}
	return nil
}

type memTx struct {
	state    *memState
	appended []memEvent
}

func (t *memTx) GetPool(_ context.Context, addr address.Address) (*model.MerchantPool, error) {
	p, ok := t.state.pools[addr]
	if !ok {
		return nil, model.ErrPoolNotFound
	}
	return &p, nil
}

func (t *memTx) InsertPool(_ context.Context, pool *model.MerchantPool) error {
	if _, ok := t.state.pools[pool.Address]; ok {
		return fmt.Errorf("%w: %s", model.ErrPoolExists, pool.Address)
	}
	t.state.pools[pool.Address] = *pool
	return nil
}

func (t *memTx) UpdatePool(_ context.Context, pool *model.MerchantPool) error {
	if _, ok := t.state.pools[pool.Address]; !ok {
		return model.ErrPoolNotFound
	}
	t.state.pools[pool.Address] = *pool
	return nil
}

func (t *memTx) GetAffiliate(_ context.Context, addr address.Address) (*model.AffiliateAccount, error) {
	a, ok := t.state.affiliates[addr]
	if !ok {
		return nil, model.ErrAffiliateNotFound
	}
	return &a, nil
}

func (t *memTx) InsertAffiliate(_ context.Context, aff *model.AffiliateAccount) error {
	if _, ok := t.state.affiliates[aff.Address]; ok {
		return fmt.Errorf("%w: %s", model.ErrAffiliateExists, aff.Address)
	}
	t.state.affiliates[aff.Address] = *aff
	return nil
}

func (t *memTx) UpdateAffiliate(_ context.Context, aff *model.AffiliateAccount) error {
	if _, ok := t.state.affiliates[aff.Address]; !ok {
		return model.ErrAffiliateNotFound
	}
	t.state.affiliates[aff.Address] = *aff
	return nil
}

func (t *memTx) GetAccount(_ context.Context, addr address.Address) (*token.Account, error) {
	acc, ok := t.state.accounts[addr]
	if !ok {
		return nil, token.ErrAccountNotFound
	}
	return &acc, nil
}

func (t *memTx) InsertAccount(_ context.Context, acc *token.Account) error {
	if _, ok := t.state.accounts[acc.Address]; ok {
		return nil
	}
	t.state.accounts[acc.Address] = *acc
	return nil
}

func (t *memTx) SetAccountAmount(_ context.Context, addr address.Address, amount uint64) error {
	acc, ok := t.state.accounts[addr]
	if !ok {
		return token.ErrAccountNotFound
	}
	acc.Amount = amount
	t.state.accounts[addr] = acc
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, ev *model.Event) error {
	t.state.seq++
	ev.Seq = t.state.seq
	t.appended = append(t.appended, memEvent{event: *ev})
	return nil
}
