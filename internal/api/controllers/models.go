package controllers

import "github.com/datallboy/packman/internal/domain"

// PackView is a catalog entry together with its current state.
type PackView struct {
	Pack  domain.ContentPack `json:"pack"`
	State domain.PackState   `json:"state"`
}

// SessionView is returned by start and resume.
type SessionView struct {
	SessionID string           `json:"sessionId"`
	State     domain.PackState `json:"state"`
}

type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	PackID  string `json:"packId,omitempty"`
	Message string `json:"message"`
}

// Event is one message on the websocket stream. Data is a PackState for
// "state" messages and a list of PackViews for "init".
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
