package plugin

import "errors"

// Plugin runtime errors.
var (
	// ErrNilPlugin is returned when NewInstance is given a nil plugin.
	ErrNilPlugin = errors.New("plugin is nil")

	// ErrAlreadyBound is returned when a plugin value is reused for a second instance.
	ErrAlreadyBound = errors.New("plugin is already bound to an instance")

	// ErrMissingDependency is returned when a required collaborator is missing.
	ErrMissingDependency = errors.New("missing instance dependency")

	// ErrInvalidWebAppURL is returned when the web mount URL cannot be parsed.
	ErrInvalidWebAppURL = errors.New("invalid webapp URL")

	// ErrAlreadyStarted is returned by Start on a started instance.
	ErrAlreadyStarted = errors.New("instance is already started")

	// ErrNotStarted is returned by Stop on an instance that is not started.
	ErrNotStarted = errors.New("instance is not started")

	// ErrUnknownType is returned when no plugin type is registered under an ID.
	ErrUnknownType = errors.New("unknown plugin type")
)
