package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// apiClient is a bearer-token JSON client shared by the Paystack and Circle integrations.
type apiClient struct {
	name string
	rc   *resty.Client
}

func newAPIClient(name, baseURL, token string) *apiClient {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Accept", "application/json")
	return &apiClient{name: name, rc: rc}
}

// do sends in as JSON and decodes the response body into out. Bodies are decoded here rather
// than through SetResult because both providers are loose about Content-Type.
func (c *apiClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	req := c.rc.R().SetContext(ctx)
	if in != nil {
		req.SetBody(in)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", c.name, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%s api error (status %d): %s", c.name, resp.StatusCode(), resp.String())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}
