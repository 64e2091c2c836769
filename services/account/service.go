package account

import (
	"context"
	"fmt"

	"viewexchange-engine/pkg/config"
	"viewexchange-engine/pkg/errutil"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/pkg/repository"
	"viewexchange-engine/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	policy    config.Engine
	ledger    *ledger.Service
	publisher event.Publisher

	accounts repository.Repository[Account]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Ledger    *ledger.Service
	Publisher event.Publisher
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		policy:    p.Config.Engine,
		ledger:    p.Ledger,
		publisher: p.Publisher,

		accounts: repository.ProvideStore[Account](p.DB),
	}
}

// Register creates an account and seeds its ledger with the welcome grant.
// A valid referrer earns a referral credit in the same transaction.
func (s *Service) Register(ctx context.Context, referrerID string) (*Account, error) {
	if referrerID != "" {
		referrer, err := s.accounts.FindOne(ctx, &Account{ID: referrerID})
		if err != nil {
			return nil, err
		}
		if referrer == nil || referrer.Status != StatusActive {
			return nil, errutil.ValidationFailed("unknown or inactive referrer")
		}
	}

	acct := &Account{
		ID:         s.node.Generate().String(),
		Status:     StatusActive,
		ReferrerID: referrerID,
	}

	var welcomeBalance, referrerBalance int64
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accounts.WithTrx(tx).Create(ctx, acct); err != nil {
			return err
		}

		if s.policy.WelcomeGrant > 0 {
			_, nb, err := s.ledger.AppendInTx(ctx, tx, acct.ID, s.policy.WelcomeGrant,
				ledger.KindWelcomeGrant, "welcome grant")
			if err != nil {
				return err
			}
			welcomeBalance = nb
		}

		if referrerID != "" && s.policy.ReferralBonus > 0 {
			_, nb, err := s.ledger.AppendInTx(ctx, tx, referrerID, s.policy.ReferralBonus,
				ledger.KindReferralCredit, fmt.Sprintf("referral of %s", acct.ID))
			if err != nil {
				return err
			}
			referrerBalance = nb
		}

		return nil
	}); err != nil {
		return nil, err
	}

	zap.L().Info("account registered",
		zap.String("account_id", acct.ID),
		zap.String("referrer_id", referrerID),
	)

	if s.policy.WelcomeGrant > 0 {
		s.publisher.Publish(ctx, event.New(event.TypeBalanceChanged, event.BalanceChanged{
			AccountID:  acct.ID,
			NewBalance: welcomeBalance,
			Delta:      s.policy.WelcomeGrant,
			Reason:     "welcome grant",
		}))
	}
	if referrerID != "" && s.policy.ReferralBonus > 0 {
		s.publisher.Publish(ctx, event.New(event.TypeBalanceChanged, event.BalanceChanged{
			AccountID:  referrerID,
			NewBalance: referrerBalance,
			Delta:      s.policy.ReferralBonus,
			Reason:     "referral credit",
		}))
	}

	return acct, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	acct, err := s.accounts.FindOne(ctx, &Account{ID: id})
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, errutil.NotFound("account not found")
	}
	return acct, nil
}

// SetStatus is the operator-facing moderation switch. Soft status only.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	if !validStatus(status) {
		return errutil.ValidationFailed("unknown account status")
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	return s.accounts.Update(ctx, id, map[string]any{"status": status})
}
