package sun

import (
	"embed"

	"chatbot/pkg/plugin"
)

// TypeID is the plugin type identifier, matching maubot.yaml.
const TypeID = "xyz.maubot.sun"

//go:embed maubot.yaml base-config.yaml
var files embed.FS

func init() {
	plugin.Register(plugin.TypeInfo{
		ID:          TypeID,
		Description: "Sun tracker - sunrise and sunset times and phase announcements",
		Priority:    plugin.PriorityDefault,
		Factory:     func() plugin.Plugin { return &Plugin{} },
		Order:       40,
		Files:       files,
	})
}
