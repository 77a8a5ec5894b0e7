// Package sun is a bundled plugin that reports sunrise and sunset times for
// a configured location and announces day phase changes to a room.
package sun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"chatbot/internal/clock"
	"chatbot/pkg/event"
	"chatbot/pkg/plugin"

	"go.uber.org/zap"
)

const (
	dateLayout = "2006-01-02"

	// polarRecheck is how long to wait before looking for a phase change
	// again when none is due within the search window.
	polarRecheck = 24 * time.Hour

	sendTimeout = 10 * time.Second
)

// Config is the instance configuration
type Config struct {
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	Timezone     string  `yaml:"timezone"`
	Command      string  `yaml:"command"`
	AnnounceRoom string  `yaml:"announce_room"`
}

func (c Config) location() Location {
	return Location{Latitude: c.Latitude, Longitude: c.Longitude}
}

func (c Config) zone() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// Plugin is the sun plugin
type Plugin struct {
	plugin.Base

	// Clock drives phase announcements. Nil means the wall clock.
	Clock clock.Clock

	mu      sync.Mutex
	running bool
	timer   clock.Timer
	phase   Phase
	// gen identifies the armed timer. A callback that fires after its timer
	// was replaced or stopped sees a newer gen and does nothing.
	gen uint64
}

// ValidateConfig checks the coordinates, time zone and command
func (p *Plugin) ValidateConfig(values map[string]any) error {
	lat, ok := number(values["latitude"])
	if !ok || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be a number between -90 and 90, got %v", values["latitude"])
	}
	lon, ok := number(values["longitude"])
	if !ok || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude must be a number between -180 and 180, got %v", values["longitude"])
	}
	if tz, ok := values["timezone"].(string); ok && tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	command, ok := values["command"].(string)
	if !ok || strings.TrimSpace(command) == "" || strings.ContainsAny(command, " \t\n") {
		return errors.New("command must be a single non-empty word")
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// DeclareHandlers declares the command handler and the times route
func (p *Plugin) DeclareHandlers() []*plugin.Method {
	return []*plugin.Method{
		plugin.EventHandler("onMessage", event.TypeMessage, p.onMessage),
		plugin.WebHandler("times", http.MethodGet, "/times", p.handleTimes, plugin.WithAllowHead()),
	}
}

// Start schedules the first phase announcement
func (p *Plugin) Start(ctx context.Context) error {
	cfg := p.config()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.phase = cfg.location().PhaseAt(p.clock().Now())
	p.scheduleLocked(cfg)

	p.Log().Info("Sun plugin started",
		zap.Float64("latitude", cfg.Latitude),
		zap.Float64("longitude", cfg.Longitude),
		zap.String("phase", string(p.phase)))
	return nil
}

// Stop cancels the pending announcement
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	return nil
}

// Phase returns the phase seen by the last announcement check
func (p *Plugin) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *Plugin) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.Real
}

func (p *Plugin) config() Config {
	cfg := Config{Timezone: "UTC", Command: "!sun"}
	if proxy := p.Config(); proxy != nil {
		if err := proxy.Decode(&cfg); err != nil {
			p.Log().Warn("Failed to decode config, using defaults", zap.Error(err))
		}
	}
	return cfg
}

// scheduleLocked arms a timer for the next phase change. The config is read
// on every reschedule, so a reloaded location takes effect after the next
// change.
func (p *Plugin) scheduleLocked(cfg Config) {
	clk := p.clock()
	now := clk.Now()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen

	at, phase, ok := cfg.location().NextChange(now)
	if !ok {
		p.Log().Debug("No phase change within a week", zap.String("phase", string(PhasePolar)))
		p.timer = clk.AfterFunc(polarRecheck, func() { p.onPhaseChange(gen, "") })
		return
	}
	p.timer = clk.AfterFunc(at.Sub(now), func() { p.onPhaseChange(gen, phase) })
}

func (p *Plugin) onPhaseChange(gen uint64, phase Phase) {
	cfg := p.config()

	p.mu.Lock()
	if !p.running || gen != p.gen {
		p.mu.Unlock()
		return
	}
	if phase != "" {
		p.phase = phase
	}
	p.scheduleLocked(cfg)
	p.mu.Unlock()

	if phase == "" || cfg.AnnounceRoom == "" {
		return
	}

	p.Log().Info("Day phase changed", zap.String("phase", string(phase)))

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := p.notice(ctx, cfg.AnnounceRoom, fmt.Sprintf("The day phase is now %s.", describe(phase))); err != nil {
		p.Log().Error("Failed to announce phase change", zap.Error(err))
	}
}

func describe(phase Phase) string {
	return strings.ReplaceAll(string(phase), "_", " ")
}

func (p *Plugin) notice(ctx context.Context, roomID, body string) error {
	sender, ok := p.Client().(event.Sender)
	if !ok {
		return fmt.Errorf("chat client %T cannot send messages", p.Client())
	}
	_, err := sender.SendMessage(ctx, roomID, event.MessageContent{MsgType: event.MsgNotice, Body: body})
	return err
}

// day resolves an optional YYYY-MM-DD argument to a UTC date. Without one it
// is today in the configured zone.
func (p *Plugin) day(cfg Config, arg string) (time.Time, error) {
	if arg != "" {
		return time.Parse(dateLayout, arg)
	}
	now := p.clock().Now().In(cfg.zone())
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
}

func (p *Plugin) onMessage(ctx context.Context, evt *event.Event) error {
	msg, err := evt.Message()
	if err != nil {
		return err
	}
	if msg.MsgType == event.MsgNotice {
		return nil
	}

	cfg := p.config()
	command, arg, _ := strings.Cut(strings.TrimSpace(msg.Body), " ")
	if command != cfg.Command {
		return nil
	}

	var reply string
	day, err := p.day(cfg, strings.TrimSpace(arg))
	if err != nil {
		reply = fmt.Sprintf("Usage: %s [YYYY-MM-DD]", cfg.Command)
	} else {
		reply = p.summary(cfg, day)
	}

	if err := p.notice(ctx, evt.RoomID, reply); err != nil {
		return fmt.Errorf("failed to reply to %s: %w", evt.ID, err)
	}
	return nil
}

func (p *Plugin) summary(cfg Config, day time.Time) string {
	date := day.Format(dateLayout)
	times := cfg.location().Times(day)
	if times.Polar() {
		return fmt.Sprintf("The sun does not rise or set on %s.", date)
	}

	zone := cfg.zone()
	hm := func(t time.Time) string { return t.In(zone).Format("15:04") }
	return fmt.Sprintf("Sun times for %s (%s): dawn %s, sunrise %s, sunset %s, dusk %s. Current phase: %s.",
		date, zone, hm(times.Dawn), hm(times.Sunrise), hm(times.Sunset), hm(times.Dusk),
		describe(cfg.location().PhaseAt(p.clock().Now())))
}

// TimesResponse is the response of the times route. Event times are RFC 3339
// in the configured zone and omitted on polar days.
type TimesResponse struct {
	Date       string  `json:"date"`
	Timezone   string  `json:"timezone"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Phase      Phase   `json:"phase"`
	Polar      bool    `json:"polar,omitempty"`
	Dawn       string  `json:"dawn,omitempty"`
	Sunrise    string  `json:"sunrise,omitempty"`
	SunriseEnd string  `json:"sunrise_end,omitempty"`
	GoldenHour string  `json:"golden_hour,omitempty"`
	Sunset     string  `json:"sunset,omitempty"`
	Dusk       string  `json:"dusk,omitempty"`
	NextChange string  `json:"next_change,omitempty"`
	NextPhase  Phase   `json:"next_phase,omitempty"`
}

func (p *Plugin) handleTimes(w http.ResponseWriter, r *http.Request) {
	cfg := p.config()
	day, err := p.day(cfg, r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	zone := cfg.zone()
	now := p.clock().Now()
	resp := TimesResponse{
		Date:      day.Format(dateLayout),
		Timezone:  zone.String(),
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
		Phase:     cfg.location().PhaseAt(now),
	}

	format := func(t time.Time) string { return t.In(zone).Format(time.RFC3339) }
	if times := cfg.location().Times(day); times.Polar() {
		resp.Polar = true
	} else {
		resp.Dawn = format(times.Dawn)
		resp.Sunrise = format(times.Sunrise)
		resp.SunriseEnd = format(times.SunriseEnd)
		resp.GoldenHour = format(times.GoldenHour)
		resp.Sunset = format(times.Sunset)
		resp.Dusk = format(times.Dusk)
	}
	if at, phase, ok := cfg.location().NextChange(now); ok {
		resp.NextChange = format(at)
		resp.NextPhase = phase
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		p.Log().Error("Failed to encode sun times", zap.Error(err))
	}
}
