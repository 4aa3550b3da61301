package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ToolRequest holds the parameters shared by every build-tool invocation.
type ToolRequest struct {
	WorkingDirectory        string   `json:"working_directory"`
	Args                    []string `json:"args,omitempty"`
	EnableAsyncNotification *bool    `json:"enable_async_notification,omitempty"`
}

// StatusRequest asks for a snapshot of one operation.
type StatusRequest struct {
	OperationID string `json:"operation_id"`
}

// WaitRequest asks to block until the listed operations reach a terminal
// state. The schema is plural only and carries no timeout: unknown fields
// such as "timeout_secs" or a singular "operation_id" are rejected.
type WaitRequest struct {
	OperationIDs []string `json:"operation_ids"`
}

// SleepRequest drives the diagnostic sleep tool.
type SleepRequest struct {
	DurationMS              int64  `json:"duration_ms"`
	OperationID             string `json:"operation_id,omitempty"`
	EnableAsyncNotification *bool  `json:"enable_async_notification,omitempty"`
}

// DecodeStrict unmarshals raw into v, rejecting fields v does not declare.
func DecodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// DecodeArguments re-encodes a loosely typed argument map and decodes it
// strictly into v.
func DecodeArguments(args map[string]any, v any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	return DecodeStrict(raw, v)
}

// DecodeWaitRequest decodes and validates a wait request. An empty id list
// yields ErrNoOperationIDs.
func DecodeWaitRequest(raw []byte) (WaitRequest, error) {
	var req WaitRequest
	if err := DecodeStrict(raw, &req); err != nil {
		return WaitRequest{}, err
	}
	if len(req.OperationIDs) == 0 {
		return WaitRequest{}, ErrNoOperationIDs
	}
	return req, nil
}
