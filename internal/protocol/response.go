// Package protocol builds the JSON response envelope every service
// handler returns, the Go rendering of the original server's
// JsonResponse.h.
package protocol

// Envelope is the outer JSON shape carried in every response frame's
// body.
type Envelope struct {
	Header Header `json:"header"`
	Status Status `json:"status"`
	Data   any    `json:"data"`
}

// Header echoes the request's routing triple back to the caller.
type Header struct {
	ServiceID uint16 `json:"serviceId"`
	CmdID     uint16 `json:"cmdId"`
	Seq       uint32 `json:"seq"`
}

// Status carries a result code and human-readable message.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Ok builds a success envelope with the given data payload. A nil data
// is rendered as an empty object.
func Ok(serviceID, cmdID uint16, seq uint32, data any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{
		Header: Header{ServiceID: serviceID, CmdID: cmdID, Seq: seq},
		Status: Status{Code: 0, Message: "OK"},
		Data:   data,
	}
}

// Error builds a failure envelope carrying errorCode/errorMsg as the
// status.
func Error(serviceID, cmdID uint16, seq uint32, errorCode int, errorMsg string) Envelope {
	return Envelope{
		Header: Header{ServiceID: serviceID, CmdID: cmdID, Seq: seq},
		Status: Status{Code: errorCode, Message: errorMsg},
		Data:   map[string]any{},
	}
}
