package lib

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/registry"
	"github.com/fiffu/dealwatch/lib/store"
	"go.uber.org/zap"
)

var ErrInvalidPatch = errors.New("invalid source patch")

const MinPollInterval = time.Minute

// SourceStatus is a source row with its derived health.
type SourceStatus struct {
	models.Source
	Health registry.Health
}

type sourceAdmin struct {
	log    *zap.Logger
	store  *store.Store
	policy registry.HealthPolicy
}

func (svc *sourceAdmin) ListSources(ctx context.Context) ([]SourceStatus, error) {
	sources, err := svc.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SourceStatus, len(sources))
	for i, src := range sources {
		out[i] = svc.status(src)
	}
	return out, nil
}

func (svc *sourceAdmin) UpdateSource(ctx context.Context, id uint, patch models.SourcePatch) (*SourceStatus, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	src, err := svc.store.UpdateSource(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	svc.log.Sugar().Infow("Updated source", "source", src.Name, "enabled", src.Enabled, "poll_interval", src.PollInterval)
	status := svc.status(*src)
	return &status, nil
}

// Repoll makes the source due on the next tick.
func (svc *sourceAdmin) Repoll(ctx context.Context, id uint) (*SourceStatus, error) {
	src, err := svc.store.UpdateSource(ctx, id, models.SourcePatch{ResetLastPolled: true})
	if err != nil {
		return nil, err
	}
	svc.log.Sugar().Infow("Scheduled repoll", "source", src.Name)
	status := svc.status(*src)
	return &status, nil
}

func (svc *sourceAdmin) SourceRuns(ctx context.Context, id uint, limit int) (models.IngestionRuns, error) {
	if _, err := svc.store.GetSource(ctx, id); err != nil {
		return nil, err
	}
	return svc.store.RecentRuns(ctx, id, limit)
}

func (svc *sourceAdmin) status(src models.Source) SourceStatus {
	return SourceStatus{src, svc.policy.Of(src.FailCount)}
}

func validatePatch(patch models.SourcePatch) error {
	if patch.Empty() {
		return fmt.Errorf("%w: nothing to update", ErrInvalidPatch)
	}
	if patch.PollInterval != nil && *patch.PollInterval < MinPollInterval {
		return fmt.Errorf("%w: poll interval must be at least %s", ErrInvalidPatch, MinPollInterval)
	}
	if patch.Endpoint != nil {
		u, err := url.Parse(*patch.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: endpoint must be an absolute http(s) url", ErrInvalidPatch)
		}
	}
	return nil
}
