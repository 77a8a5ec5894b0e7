package plugin

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"
)

// Deps provides the collaborators an Instance is constructed with. The host
// resolves every field before calling NewInstance; optional fields are left
// nil when the plugin's manifest does not enable the feature.
type Deps struct {
	// ID is the unique instance identifier.
	ID string

	// Client is the chat client's event bus. Required.
	Client EventBus

	// HTTP is the shared HTTP session. Required.
	HTTP *http.Client

	// Logger is the instance logger. Required.
	Logger *zap.Logger

	// Loader gives access to the plugin type's files. Required.
	Loader Loader

	// Config is the instance config proxy, nil if the plugin has no config.
	Config ConfigProxy

	// Database is the instance database, nil if the plugin has none.
	Database *sql.DB

	// WebApp is the instance's web mount, nil if the webapp feature is off.
	WebApp WebMount

	// WebAppURL is the public base URL of WebApp. It is ignored when
	// WebApp is nil and may be empty.
	WebAppURL string
}
