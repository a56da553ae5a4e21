package openai

import (
	"errors"

	sdk "github.com/openai/openai-go"

	"github.com/pelagus-ai/agentrt/model"
)

// classify maps an error returned by the OpenAI SDK into the provider-
// agnostic model.LlmError taxonomy (spec §4.1).
func classify(err error) error {
	if err == nil {
		return nil
	}
	var le *model.LlmError
	if errors.As(err, &le) {
		return le
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &model.LlmError{Kind: kindForStatus(apiErr.StatusCode), Msg: apiErr.Message, Cause: err}
	}
	return &model.LlmError{Kind: model.ErrNetworkError, Msg: "openai: request failed", Cause: err}
}

func kindForStatus(status int) model.ErrorKind {
	switch {
	case status == 401 || status == 403:
		return model.ErrInvalidAPIKey
	case status == 429:
		return model.ErrRateLimited
	case status == 400 || status == 404 || status == 422:
		return model.ErrInvalidRequest
	case status >= 500:
		return model.ErrServerError
	default:
		return model.ErrServerError
	}
}
