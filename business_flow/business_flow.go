// Package businessflow contains the use cases of the compliance service: submission, the pipeline, reports and notifications
package businessflow

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds client information recorded with user actions
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

func (cm *ClientMetadata) ipAddress() string {
	if cm == nil {
		return ""
	}
	return cm.IPAddress
}
