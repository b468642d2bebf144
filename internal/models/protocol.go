package models

// Wire types of the recognition service. Only the fields the kiosk sends
// and reads are modelled.

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Order is the most recent order of a recognized customer.
type Order struct {
	OrderDetails string `json:"order_details"`
	OrderDate    string `json:"order_date"`
	BranchID     string `json:"branch_id"`
}

// Response is the body of /api/recognize and /api/register.
type Response struct {
	Status       string `json:"status"`
	Recognized   bool   `json:"recognized,omitempty"`
	CustomerID   string `json:"customer_id,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	LatestOrder  *Order `json:"latest_order,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
}

// RecognizeRequest is sent to /api/recognize.
type RecognizeRequest struct {
	ImageData string
	BranchID  string
}

// Payload returns the protocol fields. request_type and request_id are
// added by the orchestrator.
func (r RecognizeRequest) Payload() map[string]any {
	return map[string]any{
		"image_data": r.ImageData,
		"branch_id":  r.BranchID,
	}
}

// RegisterRequest is sent to /api/register.
type RegisterRequest struct {
	ImageData    string
	CustomerName string
	OrderDetails string
	BranchID     string
}

func (r RegisterRequest) Payload() map[string]any {
	return map[string]any{
		"image_data":    r.ImageData,
		"customer_name": r.CustomerName,
		"order_details": r.OrderDetails,
		"branch_id":     r.BranchID,
	}
}
