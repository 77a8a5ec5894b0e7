// Package echo is a bundled example plugin. It repeats messages that start
// with its command, answers ping commands and serves a small web app.
package echo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"chatbot/pkg/event"
	"chatbot/pkg/plugin"

	"go.uber.org/zap"
)

// Config is the instance configuration
type Config struct {
	Prefix  string `yaml:"prefix"`
	Command string `yaml:"command"`
}

// Plugin is the echo plugin
type Plugin struct {
	plugin.Base

	echoed atomic.Int64
	pinged atomic.Int64
}

// ValidateConfig rejects configs without a usable command
func (p *Plugin) ValidateConfig(values map[string]any) error {
	command, ok := values["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return errors.New("command must be a non-empty string")
	}
	if strings.ContainsAny(command, " \t\n") {
		return fmt.Errorf("command %q must be a single word", command)
	}
	return nil
}

// Start logs the active configuration
func (p *Plugin) Start(ctx context.Context) error {
	cfg := p.config()
	p.Log().Info("Echo plugin started",
		zap.String("command", cfg.Prefix+cfg.Command),
		zap.Int("bindings", len(p.Instance().Bindings())))
	return nil
}

// DeclareHandlers declares the message handler and the web routes
func (p *Plugin) DeclareHandlers() []*plugin.Method {
	return []*plugin.Method{
		plugin.EventHandler("onMessage", event.TypeMessage, p.onMessage),
		plugin.WebHandler("ping", http.MethodGet, "/ping", p.handlePing),
		plugin.WebHandler("stats", http.MethodGet, "/stats", p.handleStats,
			plugin.WithRouteName("stats"), plugin.WithAllowHead()),
	}
}

func (p *Plugin) config() Config {
	cfg := Config{Prefix: "!", Command: "echo"}
	if proxy := p.Config(); proxy != nil {
		if err := proxy.Decode(&cfg); err != nil {
			p.Log().Warn("Failed to decode config, using defaults", zap.Error(err))
		}
	}
	return cfg
}

func (p *Plugin) onMessage(ctx context.Context, evt *event.Event) error {
	msg, err := evt.Message()
	if err != nil {
		return err
	}
	// Never answer notices, bots use them for their own output
	if msg.MsgType == event.MsgNotice {
		return nil
	}

	cfg := p.config()
	command, rest, _ := strings.Cut(strings.TrimSpace(msg.Body), " ")

	var reply string
	switch command {
	case cfg.Prefix + cfg.Command:
		if rest = strings.TrimSpace(rest); rest == "" {
			return nil
		}
		reply = rest
		p.echoed.Add(1)
	case cfg.Prefix + "ping":
		reply = "pong"
		p.pinged.Add(1)
	default:
		return nil
	}

	sender, ok := p.Client().(event.Sender)
	if !ok {
		return fmt.Errorf("chat client %T cannot send messages", p.Client())
	}

	if _, err := sender.SendMessage(ctx, evt.RoomID, event.MessageContent{
		MsgType: event.MsgNotice,
		Body:    reply,
	}); err != nil {
		return fmt.Errorf("failed to reply to %s: %w", evt.ID, err)
	}

	p.Log().Debug("Replied to command",
		zap.String("room_id", evt.RoomID),
		zap.String("sender", evt.Sender),
		zap.String("command", command))
	return nil
}

func (p *Plugin) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "pong")
}

// Stats is the response of the stats route
type Stats struct {
	Echoed int64  `json:"echoed"`
	Pinged int64  `json:"pinged"`
	Self   string `json:"self,omitempty"`
}

func (p *Plugin) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		Echoed: p.echoed.Load(),
		Pinged: p.pinged.Load(),
	}
	if u := p.WebAppURL(); u != nil {
		stats.Self = u.JoinPath("stats").String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		p.Log().Error("Failed to encode stats", zap.Error(err))
	}
}
