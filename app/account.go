package app

import (
	"context"

	"github.com/novalabs/meterlink/pkg/apperr"
	"github.com/novalabs/meterlink/ports"
)

// AccountService exposes customer-scoped vendor reads: prepaid balance
// and embeddable dashboard URLs.
type AccountService struct {
	balances   ports.BalanceReader
	dashboards ports.DashboardLinker
	store      ports.StateStore
}

// NewAccountService creates an account query service.
func NewAccountService(balances ports.BalanceReader, dashboards ports.DashboardLinker, store ports.StateStore) *AccountService {
	return &AccountService{balances: balances, dashboards: dashboards, store: store}
}

func (s *AccountService) customerID(ctx context.Context) (string, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if doc.CustomerID == "" {
		return "", apperr.Configuration("no customer provisioned", "create a customer first (POST /api/customers)")
	}
	return doc.CustomerID, nil
}

// Balance returns the stored customer's prepaid commit balance.
func (s *AccountService) Balance(ctx context.Context) (ports.PrepaidBalance, error) {
	customerID, err := s.customerID(ctx)
	if err != nil {
		return ports.PrepaidBalance{}, err
	}
	bal, err := s.balances.PrepaidBalance(ctx, customerID)
	if err != nil {
		return ports.PrepaidBalance{}, apperr.Upstream("read prepaid balance", err)
	}
	return bal, nil
}

// DashboardURL mints a short-lived embeddable vendor dashboard URL for
// the stored customer.
func (s *AccountService) DashboardURL(ctx context.Context, dashboard string) (string, error) {
	customerID, err := s.customerID(ctx)
	if err != nil {
		return "", err
	}
	if dashboard == "" {
		dashboard = "usage"
	}
	u, err := s.dashboards.EmbeddableDashboardURL(ctx, customerID, dashboard)
	if err != nil {
		return "", apperr.Upstream("mint dashboard url", err)
	}
	return u, nil
}
