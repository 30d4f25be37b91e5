package models

import "time"

// User is an account that can authorize applications.
type User struct {
	UID          string    `json:"uid"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar,omitempty"`
	Scopes       []string  `json:"scopes"`
	Private      bool      `json:"private"`
	Applications []string  `json:"applications,omitempty"` // ids of applications owned by this user
	CreationDate time.Time `json:"creation_date"`
}

// Application is a registered OAuth2 client.
type Application struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RedirectURI  string    `json:"redirect_uri"`
	Owner        string    `json:"owner"`
	SecretHash   string    `json:"-"`
	Trusted      bool      `json:"trusted"`
	CreationDate time.Time `json:"creation_date"`
}
