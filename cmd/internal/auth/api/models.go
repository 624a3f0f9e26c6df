package api

import (
	"encoding/json"
	"time"

	"gatehouse/cmd/identity"
)

// loginRequest keeps fields raw so that presence and type can be checked separately.
type loginRequest struct {
	Email    json.RawMessage `json:"email"`
	Password json.RawMessage `json:"password"`
}

// userResponse is the redacted identity projection. It never carries credential data.
type userResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
}

type loginResponse struct {
	Data  userResponse `json:"data"`
	Token string       `json:"token"`
}

type meResponse struct {
	Data userResponse `json:"data"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		CreatedAt: u.CreatedAt,
		Name:      u.Name,
		Email:     u.Email,
	}
}
