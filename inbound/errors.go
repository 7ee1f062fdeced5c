package inbound

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
)

func inboundInternal(message string, metadata map[string]any) error {
	return core.Internal(message, metadata)
}

func inboundWrapInternal(source error, message string, metadata map[string]any) error {
	return core.WrapInternal(source, message, metadata)
}

// errorBody renders err as the go-errors response envelope. Internal details
// of 5xx errors are not echoed to the sender.
func errorBody(err error) []byte {
	mapped := core.MapError(err)
	if mapped == nil {
		return nil
	}
	envelope := mapped.Clone()
	envelope.Location = nil
	if envelope.Code >= http.StatusInternalServerError {
		envelope.Source = nil
		envelope.Metadata = nil
	}
	body, marshalErr := json.Marshal(envelope.ToErrorResponse(false, nil))
	if marshalErr != nil {
		return []byte(`{"error":{"category":"` + string(goerrors.CategoryInternal) + `","message":"internal error"}}`)
	}
	return body
}
