package repository

import (
	"context"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/grpc/client"
	"syd-quota-service/domain"
)

const (
	getTierEndpoint = "syd-auth-service/user/get_tier"
)

type Tier struct {
	cli *client.Client
}

func NewTier(cli *client.Client) Tier {
	return Tier{cli: cli}
}

func (r Tier) GetTier(ctx context.Context, identity string) (*domain.TierResponse, error) {
	resp := domain.TierResponse{}
	err := r.cli.Invoke(getTierEndpoint).
		JsonRequestBody(domain.TierRequest{Identity: identity}).
		JsonResponseBody(&resp).
		Do(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "grpc client invoke %s", getTierEndpoint)
	}
	return &resp, nil
}
