package mobile

import (
	"errors"
	"strings"

	"facekiosk/internal/models"
	"facekiosk/internal/orchestrator"
	"facekiosk/internal/validate"
)

// Messages shown to the customer, keyed by server error code or failure.
var userMessages = map[string]string{
	"NO_FACE_DETECTED":     "No face detected. Please retake the photo in better light.",
	"FACE_ENCODING_FAILED": "The photo could not be processed. Please try again.",
	"PROCESSING_ERROR":     "Processing error. Please try again.",
	"SERVER_ERROR":         "Server error. Please try again later.",
	"INVALID_REQUEST":      "Invalid request.",
	"UNKNOWN_REQUEST_TYPE": "Unknown request type.",
	"NETWORK_ERROR":        "No network connection. Please check WiFi or mobile data.",
	"CONNECTION_REFUSED":   "Cannot reach the server. Please check the settings.",
	"CONNECTION_TIMEOUT":   "Connection timed out. Please try again.",
}

// UserMessage turns a flow error into text for the customer. Known server
// error codes win over the server's own message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *validate.FieldError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	var re *orchestrator.RequestError
	if !errors.As(err, &re) {
		if msg := err.Error(); msg != "" {
			return msg
		}
		return userMessages["PROCESSING_ERROR"]
	}
	if msg, ok := userMessages[re.Code]; ok && re.Code != "" {
		return msg
	}
	switch re.Kind {
	case orchestrator.KindNoConnectivity:
		return userMessages["NETWORK_ERROR"]
	case orchestrator.KindTransport:
		return userMessages["CONNECTION_REFUSED"]
	case orchestrator.KindTimeout:
		return userMessages["CONNECTION_TIMEOUT"]
	case orchestrator.KindProtocol:
		return userMessages["SERVER_ERROR"]
	}
	if re.Message != "" {
		return re.Message
	}
	return userMessages["PROCESSING_ERROR"]
}

// OrderFromDifferentBranch reports whether the customer's latest order was
// placed at a branch other than currentBranch.
func OrderFromDifferentBranch(resp *models.Response, currentBranch string) bool {
	if resp == nil || resp.LatestOrder == nil {
		return false
	}
	b := strings.TrimSpace(resp.LatestOrder.BranchID)
	return b != "" && b != currentBranch
}
