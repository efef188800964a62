package types

// SuccessEnvelope wraps health and operational responses.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorBody is the error shape of every catalog endpoint. SagaID is set when
// the failure belongs to a saga the caller can look up.
type ErrorBody struct {
	ErrorMessage string `json:"errorMessage"`
	Code         string `json:"code"`
	SagaID       string `json:"sagaId,omitempty"`
	Details      any    `json:"details,omitempty"`
}
