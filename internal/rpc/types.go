package rpc

// RPCError represents a JSON-RPC error response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// SignatureStatus is one entry from getSignatureStatuses
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *int        `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// Finalized reports whether the transaction reached finalized commitment
func (s *SignatureStatus) Finalized() bool {
	return s != nil && s.ConfirmationStatus == "finalized"
}

// Failed reports whether the transaction landed with an execution error
func (s *SignatureStatus) Failed() bool {
	return s != nil && s.Err != nil
}
