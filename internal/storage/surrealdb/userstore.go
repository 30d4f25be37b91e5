package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/passage/internal/common"
	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// applicationRow is the DB-level representation of an application.
// Unlike models.Application it carries the secret hash.
type applicationRow struct {
	ApplicationID string    `json:"application_id"`
	Name          string    `json:"name"`
	RedirectURI   string    `json:"redirect_uri"`
	Owner         string    `json:"owner"`
	SecretHash    string    `json:"secret_hash"`
	Trusted       bool      `json:"trusted"`
	CreationDate  time.Time `json:"creation_date"`
}

func (r *applicationRow) toModel() *models.Application {
	return &models.Application{
		ID:           r.ApplicationID,
		Name:         r.Name,
		RedirectURI:  r.RedirectURI,
		Owner:        r.Owner,
		SecretHash:   r.SecretHash,
		Trusted:      r.Trusted,
		CreationDate: r.CreationDate,
	}
}

const applicationFields = "application_id, name, redirect_uri, owner, secret_hash, trusted, creation_date"

// ApplicationStore implements interfaces.ApplicationStore using SurrealDB.
type ApplicationStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewApplicationStore creates a new ApplicationStore.
func NewApplicationStore(db *surrealdb.DB, logger *common.Logger) *ApplicationStore {
	return &ApplicationStore{db: db, logger: logger}
}

func (s *ApplicationStore) FindApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	sql := "SELECT " + applicationFields + " FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableApplication, applicationID),
	}
	results, err := surrealdb.Query[[]applicationRow](ctx, s.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("application %s: %w", applicationID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("application %s: %w", applicationID, interfaces.ErrNotFound)
	}
	return (*results)[0].Result[0].toModel(), nil
}

func (s *ApplicationStore) SaveApplication(ctx context.Context, app *models.Application) error {
	sql := `UPSERT $rid SET
		application_id = $application_id, name = $name,
		redirect_uri = $redirect_uri, owner = $owner,
		secret_hash = $secret_hash, trusted = $trusted,
		creation_date = $creation_date`
	vars := map[string]any{
		"rid":            surrealmodels.NewRecordID(tableApplication, app.ID),
		"application_id": app.ID,
		"name":           app.Name,
		"redirect_uri":   app.RedirectURI,
		"owner":          app.Owner,
		"secret_hash":    app.SecretHash,
		"trusted":        app.Trusted,
		"creation_date":  app.CreationDate,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

func (s *ApplicationStore) ListApplicationsByOwner(ctx context.Context, owner string) ([]*models.Application, error) {
	sql := "SELECT " + applicationFields + " FROM application WHERE owner = $owner ORDER BY creation_date ASC"
	vars := map[string]any{"owner": owner}

	results, err := surrealdb.Query[[]applicationRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}

	var apps []*models.Application
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			apps = append(apps, (*results)[0].Result[i].toModel())
		}
	}
	return apps, nil
}

// userRow is the DB-level representation of a user.
type userRow struct {
	UID          string    `json:"uid"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar"`
	Scopes       []string  `json:"scopes"`
	Private      bool      `json:"private"`
	Applications []string  `json:"applications"`
	CreationDate time.Time `json:"creation_date"`
}

// UserStore implements interfaces.UserStore using SurrealDB.
type UserStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewUserStore(db *surrealdb.DB, logger *common.Logger) *UserStore {
	return &UserStore{
		db:     db,
		logger: logger,
	}
}

func (s *UserStore) FindUser(ctx context.Context, uid string) (*models.User, error) {
	sql := "SELECT uid, username, avatar, scopes, private, applications, creation_date FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableUser, uid),
	}
	results, err := surrealdb.Query[[]userRow](ctx, s.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("user %s: %w", uid, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("user %s: %w", uid, interfaces.ErrNotFound)
	}
	row := (*results)[0].Result[0]
	return &models.User{
		UID:          row.UID,
		Username:     row.Username,
		Avatar:       row.Avatar,
		Scopes:       row.Scopes,
		Private:      row.Private,
		Applications: row.Applications,
		CreationDate: row.CreationDate,
	}, nil
}

func (s *UserStore) SaveUser(ctx context.Context, user *models.User) error {
	row := userRow{
		UID:          user.UID,
		Username:     user.Username,
		Avatar:       user.Avatar,
		Scopes:       user.Scopes,
		Private:      user.Private,
		Applications: user.Applications,
		CreationDate: user.CreationDate,
	}
	sql := "UPSERT $rid CONTENT $record"
	vars := map[string]any{"rid": surrealmodels.NewRecordID(tableUser, user.UID), "record": row}

	if _, err := surrealdb.Query[[]userRow](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Compile-time checks
var (
	_ interfaces.ApplicationStore = (*ApplicationStore)(nil)
	_ interfaces.UserStore        = (*UserStore)(nil)
)
