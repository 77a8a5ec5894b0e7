package echo

import (
	"embed"

	"chatbot/pkg/plugin"
)

// TypeID is the plugin type identifier, matching maubot.yaml.
const TypeID = "xyz.maubot.echo"

//go:embed maubot.yaml base-config.yaml
var files embed.FS

func init() {
	plugin.Register(plugin.TypeInfo{
		ID:          TypeID,
		Description: "Echo bot - repeats messages and answers pings",
		Priority:    plugin.PriorityDefault,
		Factory:     func() plugin.Plugin { return &Plugin{} },
		Files:       files,
	})
}
