package ledger

import (
	"context"
	"time"

	"viewexchange-engine/pkg/db/option"
	"viewexchange-engine/pkg/db/pagination"
	"viewexchange-engine/pkg/errutil"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReasonInsufficientFunds marks a debit that would drive the cached balance
// negative.
const ReasonInsufficientFunds = "insufficient_funds"

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	publisher event.Publisher

	entries  repository.Repository[Entry]
	balances repository.Repository[Balance]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Publisher event.Publisher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		publisher: p.Publisher,

		entries:  repository.ProvideStore[Entry](p.DB),
		balances: repository.ProvideStore[Balance](p.DB),
	}
}

// Append records one balance-affecting event in its own transaction and
// broadcasts the new balance. Composite operations (campaign escrow, watch
// settlement) use AppendInTx inside their own transactional boundary instead.
func (s *Service) Append(ctx context.Context, accountID string, delta int64, kind Kind, reason string) (*Entry, error) {
	var entry *Entry
	var newBalance int64

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, newBalance, err = s.AppendInTx(ctx, tx, accountID, delta, kind, reason)
		return err
	}); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, event.New(event.TypeBalanceChanged, event.BalanceChanged{
		AccountID:  accountID,
		NewBalance: newBalance,
		Delta:      delta,
		Reason:     reason,
	}))

	return entry, nil
}

// AppendInTx appends an entry and updates the cached balance inside the
// caller's transaction. The balance row is read under a row lock so two
// concurrent spenders cannot both pass the negative-balance check. Returns
// the entry and the post-append balance; the caller is responsible for
// emitting balance_changed after its transaction commits.
func (s *Service) AppendInTx(ctx context.Context, tx *gorm.DB, accountID string, delta int64, kind Kind, reason string) (*Entry, int64, error) {
	if delta == 0 {
		return nil, 0, errutil.ValidationFailed("delta must be non-zero")
	}

	balancesTx := s.balances.WithTrx(tx)
	entriesTx := s.entries.WithTrx(tx)

	balance, err := balancesTx.FindOne(ctx, &Balance{AccountID: accountID}, option.WithLockingUpdate())
	if err != nil {
		return nil, 0, err
	}

	var current int64
	if balance != nil {
		current = balance.Balance
	}

	if delta < 0 && current+delta < 0 {
		return nil, 0, errutil.UnprocessableEntity("insufficient funds",
			errutil.WithReason(ReasonInsufficientFunds),
		)
	}

	lastEntry, err := entriesTx.FindOne(ctx, &Entry{AccountID: accountID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, 0, err
	}

	entry := &Entry{
		ID:           s.node.Generate().String(),
		AccountID:    accountID,
		Delta:        delta,
		Kind:         kind,
		Reason:       reason,
		PreviousHash: genesisHash,
		CreatedAt:    time.Now().UTC(),
	}
	if lastEntry != nil {
		entry.PreviousHash = lastEntry.Hash
	}
	entry.Hash = entry.GenerateHash()

	if err := entriesTx.Create(ctx, entry); err != nil {
		return nil, 0, err
	}

	newBalance := current + delta
	if balance == nil {
		if err := balancesTx.Create(ctx, &Balance{
			ID:        s.node.Generate().String(),
			AccountID: accountID,
			Balance:   newBalance,
		}); err != nil {
			return nil, 0, err
		}
	} else {
		if err := balancesTx.Update(ctx, balance.ID, map[string]any{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Now(),
		}); err != nil {
			return nil, 0, err
		}
	}

	return entry, newBalance, nil
}

// BalanceOf serves the cached balance. Accounts with no ledger activity read
// as zero.
func (s *Service) BalanceOf(ctx context.Context, accountID string) (int64, error) {
	balance, err := s.balances.FindOne(ctx, &Balance{AccountID: accountID})
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Balance, nil
}

// History returns the account's entries newest-first with cursor pagination.
func (s *Service) History(ctx context.Context, accountID string, p pagination.Pagination) ([]*Entry, *pagination.PageInfo, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 25
	}

	q := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", errutil.WithErr(err))
		}
		at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", errutil.WithErr(err))
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)",
			at, at, cursor.ID)
	}

	var entries []*Entry
	if err := q.Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	entries, hasMore := pagination.Trim(entries, limit)

	info := &pagination.PageInfo{HasMore: hasMore}
	if hasMore {
		last := entries[len(entries)-1]
		next, err := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        last.ID,
		})
		if err != nil {
			return nil, nil, err
		}
		info.NextCursor = next
	}

	return entries, info, nil
}

// Reconcile recomputes the entry sum and compares it to the cached balance.
// Integrity tooling only; never on the request hot path.
func (s *Service) Reconcile(ctx context.Context, accountID string) (bool, int64, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	var sum int64
	if err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error; err != nil {
		return false, 0, err
	}

	cached, err := s.BalanceOf(ctx, accountID)
	if err != nil {
		return false, 0, err
	}

	drift := cached - sum
	if drift != 0 {
		zap.L().Warn("ledger balance drift",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("account_id", accountID),
			zap.Int64("cached", cached),
			zap.Int64("entry_sum", sum),
		)
	}

	return drift == 0, drift, nil
}

// VerifyChain walks the account's entries oldest-first and checks every hash
// link.
func (s *Service) VerifyChain(ctx context.Context, accountID string) (bool, error) {
	entries, err := s.entries.Find(ctx, &Entry{AccountID: accountID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
	if err != nil {
		return false, err
	}

	lastHash := genesisHash
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}
