package bedrock

import (
	"errors"

	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/pelagus-ai/agentrt/model"
)

// classify maps an error returned by the Bedrock runtime client into the
// provider-agnostic model.LlmError taxonomy (spec §4.1), mirroring the
// pack's "ThrottlingException / 429" rate-limit detection.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var le *model.LlmError
	if errors.As(err, &le) {
		return le
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return &model.LlmError{Kind: model.ErrRateLimited, Msg: apiErr.ErrorMessage(), Cause: err}
		case "ValidationException", "ModelErrorException":
			return &model.LlmError{Kind: model.ErrInvalidRequest, Msg: apiErr.ErrorMessage(), Cause: err}
		case "AccessDeniedException":
			return &model.LlmError{Kind: model.ErrInvalidAPIKey, Msg: apiErr.ErrorMessage(), Cause: err}
		case "ModelStreamErrorException", "InternalServerException", "ServiceUnavailableException":
			return &model.LlmError{Kind: model.ErrServerError, Msg: apiErr.ErrorMessage(), Cause: err}
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return &model.LlmError{Kind: model.ErrRateLimited, Msg: "bedrock: rate limited", Cause: err}
	}
	return &model.LlmError{Kind: model.ErrNetworkError, Msg: "bedrock: request failed", Cause: err}
}
