package model

import (
	"net/http"

	"github.com/mahaj/msgbridge/pkg/apperr"
)

// Envelope wraps every client-facing response, HTTP and realtime alike.
type Envelope struct {
	Status   int            `json:"status"`
	Message  string         `json:"message"`
	Data     any            `json:"data"`
	Error    *ErrorBody     `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Success(data any) Envelope {
	return Envelope{Status: http.StatusOK, Message: "Success", Data: data}
}

func Failure(status int, kind, msg string, data any) Envelope {
	return Envelope{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
		Error:   &ErrorBody{Type: kind, Message: msg},
	}
}

// ErrorEnvelope renders a classified error. data is echoed back, for example
// the failed message of a send.
func ErrorEnvelope(err error, data any) Envelope {
	return Failure(apperr.HTTPStatus(err), string(apperr.KindOf(err)), apperr.PublicMessage(err), data)
}
