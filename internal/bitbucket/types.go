package bitbucket

import "time"

// Page wraps a paginated Bitbucket Cloud response.
type Page[T any] struct {
	Size    int    `json:"size"`
	Page    int    `json:"page"`
	PageLen int    `json:"pagelen"`
	Next    string `json:"next"`
	Values  []T    `json:"values"`
}

// ErrorResponse is the error envelope returned by the API.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

// Repository represents a repository in a Bitbucket Cloud workspace.
type Repository struct {
	UUID       string      `json:"uuid"`
	Slug       string      `json:"slug"`
	Name       string      `json:"name"`
	FullName   string      `json:"full_name"`
	IsPrivate  bool        `json:"is_private"`
	SCM        string      `json:"scm"`
	UpdatedOn  time.Time   `json:"updated_on"`
	MainBranch *MainBranch `json:"mainbranch,omitempty"`
	Links      Links       `json:"links"`
}

// MainBranch names the default branch of a repository.
type MainBranch struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Links stores URLs for accessing related resources.
type Links struct {
	HTML  Link        `json:"html"`
	Clone []CloneLink `json:"clone,omitempty"`
}

// Link is a single hyperlink.
type Link struct {
	Href string `json:"href"`
}

// CloneLink represents a link to clone the repository.
type CloneLink struct {
	Href string `json:"href"`
	Name string `json:"name"`
}
