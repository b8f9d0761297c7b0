package entity

import (
	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
)

// PublishRequest is one publish attempt of a post to one account
type PublishRequest struct {
	PostID   string
	VideoURL string
	Caption  string
	Account  credential.AccountCredential
}
