package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dpup/qavault/authflow"
	"github.com/dpup/qavault/logging"
)

const statusRegisterRequired = "register_required"

var _ authflow.Exchanger = (*Client)(nil)

type exchangeRequest struct {
	Token string `json:"token"`
	Name  string `json:"name,omitempty"`
}

type exchangeResponse struct {
	Status      string `json:"status"`
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
}

// Exchange posts an assertion, and optionally a display name, to the sign-in
// endpoint. The error is non-nil only when no response was received.
func (c *Client) Exchange(ctx context.Context, req authflow.ExchangeRequest) (authflow.Outcome, error) {
	resp, err := c.send(ctx, request{
		method: http.MethodPost,
		path:   "/auth/google",
		body:   exchangeRequest{Token: string(req.Assertion), Name: req.DisplayName},
	})
	if err != nil {
		return nil, err
	}
	outcome := parseExchange(resp)
	logging.Debugw(ctx, "client: exchange outcome", "status", resp.status, "outcome", outcomeName(outcome))
	return outcome, nil
}

func parseExchange(resp *response) authflow.Outcome {
	switch {
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return authflow.Rejected{StatusCode: resp.status, InvalidCredentials: true}
	case resp.status < 200 || resp.status > 299:
		return authflow.Rejected{StatusCode: resp.status}
	}

	var body exchangeResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return authflow.Rejected{StatusCode: resp.status}
	}
	switch {
	case body.AccessToken != "" && body.Username != "":
		return authflow.Authenticated{AccessToken: body.AccessToken, DisplayName: body.Username}
	case body.Status == statusRegisterRequired:
		return authflow.RegistrationRequired{}
	}
	return authflow.Rejected{StatusCode: resp.status}
}

func outcomeName(o authflow.Outcome) string {
	switch o := o.(type) {
	case authflow.Authenticated:
		return "authenticated"
	case authflow.RegistrationRequired:
		return "registration_required"
	case authflow.Rejected:
		if o.InvalidCredentials {
			return "rejected_credentials"
		}
		return "rejected"
	}
	return "unknown"
}
