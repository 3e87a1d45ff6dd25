package github

import (
	"context"
	"errors"

	"github.com/ericfisherdev/gitwatch/internal/domain/port/driven"
)

var _ driven.DeliveryProbe = (*InstallationProbe)(nil)

// InstallationProbe reports webhook delivery as available when the configured
// GitHub App is installed on the watched repository. App installations carry
// the webhook subscription, so no App means polling.
type InstallationProbe struct {
	auth *AppAuth
	repo string
}

// NewInstallationProbe creates a probe for repoFullName. auth may be nil.
func NewInstallationProbe(auth *AppAuth, repoFullName string) *InstallationProbe {
	return &InstallationProbe{auth: auth, repo: repoFullName}
}

func (p *InstallationProbe) WebhookInstalled(ctx context.Context) (bool, error) {
	if p.auth == nil {
		return false, nil
	}

	owner, repo, err := splitRepo(p.repo)
	if err != nil {
		return false, err
	}

	if _, err := p.auth.InstallationID(ctx, owner, repo); err != nil {
		if errors.Is(err, ErrNoInstallation) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
