package channel

import "encoding/json"

// Notification is the outbound frame that tells the recognition service where
// the uploaded image lives. Immutable once constructed.
type Notification struct {
	Action  string           `json:"action"`
	Message NotificationBody `json:"message"`
}

type NotificationBody struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

const actionSendVehicleInfo = "sendVehicleInfo"

func NewNotification(bucket, key string) Notification {
	return Notification{
		Action:  actionSendVehicleInfo,
		Message: NotificationBody{Bucket: bucket, Key: key},
	}
}

// result mirrors the reply published by the recognition service. The service
// wraps the text in {"success":true,"message":...}; only message matters here.
type result struct {
	Success *bool   `json:"success"`
	Message *string `json:"message"`
}

// ParseResult extracts the recognized text from a raw inbound frame. Frames
// that are not JSON or carry no message field are reported as not ok; the
// caller drops them without failing the in-flight wait.
func ParseResult(data []byte) (string, bool) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return "", false
	}
	if r.Message == nil {
		return "", false
	}
	return *r.Message, true
}
