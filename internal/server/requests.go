package server

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrMissingSong = errors.New("song field is missing")
	ErrEmptySinger = errors.New("singer field is empty")
	ErrMissingID   = errors.New("id field is missing")
	ErrEmptyReport = errors.New("report text is empty")
)

// submitRequest is the body of POST /api/queue.
type submitRequest struct {
	Song     *int64 `json:"song"`
	Singer   string `json:"singer"`
	Password string `json:"password"`
}

// parseSubmit validates a submission body.
// Returns the parsed request, or an error describing the first
// missing field.
func parseSubmit(data []byte) (*submitRequest, error) {
	var req submitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.Song == nil {
		return nil, ErrMissingSong
	}
	if strings.TrimSpace(req.Singer) == "" {
		return nil, ErrEmptySinger
	}
	return &req, nil
}

// swapRequest is the body of POST /api/queue/swap.
type swapRequest struct {
	A uuid.UUID `json:"a"`
	B uuid.UUID `json:"b"`
}

func parseSwap(data []byte) (*swapRequest, error) {
	var req swapRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.A == uuid.Nil || req.B == uuid.Nil {
		return nil, ErrMissingID
	}
	return &req, nil
}

// moveRequest is the body of POST /api/queue/move.
type moveRequest struct {
	ID    uuid.UUID `json:"id"`
	After uuid.UUID `json:"after"`
}

func parseMove(data []byte) (*moveRequest, error) {
	var req moveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil || req.After == uuid.Nil {
		return nil, ErrMissingID
	}
	return &req, nil
}

// withdrawRequest is the body of POST /api/queue/{id}/withdraw. An
// empty password is legal input; it just has to match the secret
// given at submission.
type withdrawRequest struct {
	Password string `json:"password"`
}

func parseWithdraw(data []byte) (*withdrawRequest, error) {
	var req withdrawRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// bugRequest is the body of POST /api/bugs.
type bugRequest struct {
	Song *int64 `json:"song"`
	Text string `json:"text"`
}

func parseBug(data []byte) (*bugRequest, error) {
	var req bugRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.Song == nil {
		return nil, ErrMissingSong
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyReport
	}
	return &req, nil
}
