// Package message defines the wire types exchanged between the capture
// agent, the UI context, and the coordinator. Every request yields exactly
// one reply.
package message

import "encoding/json"

// Type enumerates the request names the coordinator accepts.
type Type string

const (
	TypeSaveNote               Type = "SAVE_NOTE"
	TypeUpdateNote             Type = "UPDATE_NOTE"
	TypeDeleteNote             Type = "DELETE_NOTE"
	TypeGetNotes               Type = "GET_NOTES"
	TypeSearchNotes            Type = "SEARCH_NOTES"
	TypeAddSelectionToPageNote Type = "ADD_SELECTION_TO_PAGE_NOTE"
	TypeCheckURLEnabled        Type = "CHECK_URL_ENABLED"
	TypeSettingsUpdated        Type = "SETTINGS_UPDATED"
)

// Request is one message to the coordinator. Data carries the
// request-specific payload; NoteID and Query are used by the note CRUD and
// search requests respectively.
type Request struct {
	Type   Type            `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	NoteID string          `json:"noteId,omitempty"`
	Query  string          `json:"query,omitempty"`
}

// Response is the single reply to a request.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CheckURLPayload is the Data of a CHECK_URL_ENABLED request.
type CheckURLPayload struct {
	URL string `json:"url"`
}

// EnabledPayload is the Data of a CHECK_URL_ENABLED reply.
type EnabledPayload struct {
	Enabled bool `json:"enabled"`
}

// Success builds a successful response. A nil payload yields empty Data;
// a payload that fails to marshal is converted to a failure rather than
// letting the error cross the channel boundary.
func Success(payload any) Response {
	if payload == nil {
		return Response{Success: true}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Failure("encode response: " + err.Error())
	}
	return Response{Success: true, Data: data}
}

// Failure builds a failed response carrying the error text.
func Failure(msg string) Response {
	return Response{Success: false, Error: msg}
}
