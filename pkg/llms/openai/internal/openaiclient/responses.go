package openaiclient

import (
	"context"

	"github.com/effective-security/xlog"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolbridge", "openai")

// CreateResponse creates a response using the Responses API.
func (c *Client) CreateResponse(ctx context.Context, r *responses.ResponseNewParams) (*responses.Response, error) {
	if r.Model == "" {
		if c.Model == "" {
			r.Model = DefaultChatModel
		} else {
			r.Model = c.Model
		}
	}
	if !r.MaxOutputTokens.Valid() {
		r.MaxOutputTokens = param.NewOpt(int64(DefaultMaxTokens))
	}

	u := c.buildURL("/responses", r.Model)
	logger.ContextKV(ctx, xlog.DEBUG, "url", u)

	var resp responses.Response
	if err := c.post(ctx, u, r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
