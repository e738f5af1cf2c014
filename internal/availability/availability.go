// Package availability answers whether the cloud account can be used.
package availability

import (
	"context"
	"log/slog"

	"github.com/vbonduro/cubby/internal/cloud"
	"github.com/vbonduro/cubby/internal/domain"
)

// AccountStatuser is the slice of cloud.Container the prober needs.
type AccountStatuser interface {
	AccountStatus(ctx context.Context) (cloud.AccountStatus, error)
}

type Prober struct {
	account AccountStatuser
	logger  *slog.Logger
}

func NewProber(account AccountStatuser, logger *slog.Logger) *Prober {
	return &Prober{account: account, logger: logger}
}

// Check queries the account status. A non-nil override is returned as is
// without querying.
func (p *Prober) Check(ctx context.Context, override *domain.Availability) domain.Availability {
	if override != nil {
		return *override
	}

	status, err := p.account.AccountStatus(ctx)
	if err != nil {
		p.logger.Warn("account status query failed", "error", err)
		return domain.Unavailable(domain.ReasonError)
	}

	switch status {
	case cloud.StatusAvailable:
		return domain.Available()
	case cloud.StatusNoAccount:
		return domain.Unavailable(domain.ReasonNoAccount)
	case cloud.StatusRestricted:
		return domain.Unavailable(domain.ReasonRestricted)
	case cloud.StatusTemporarilyUnavailable:
		return domain.Unavailable(domain.ReasonTemporarilyUnavailable)
	}
	return domain.Unavailable(domain.ReasonCouldNotDetermine)
}
