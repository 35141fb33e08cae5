package client

import (
	"context"

	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

type Client interface {
	Login(ctx context.Context, username, password string) (*models.AuthResult, error)
	Register(ctx context.Context, reg models.Registration) (*models.AuthResult, error)
	GetProfile(ctx context.Context) (*models.User, error)
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error)
	ListJobs(ctx context.Context) ([]models.DownloadJob, error)
	DeleteJob(ctx context.Context, id int64) error
	FetchJobArtifact(ctx context.Context, id int64) (*models.Artifact, error)
	Ping(ctx context.Context) error
}

// TokenSource yields the bearer token to attach to a request. An empty
// token means the request goes out unauthenticated.
type TokenSource interface {
	Load(ctx context.Context) (string, error)
}

type staticTokens string

func (s staticTokens) Load(context.Context) (string, error) {
	return string(s), nil
}
