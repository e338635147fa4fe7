package bot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"ai-relay-bot/internal/monitor"
)

// Presence activities shown for each local model state
const (
	ActivityChecking = "Local model: checking"
	ActivityReady    = "Local model: ready"
	ActivityOffline  = "Local model: offline"
)

// StatusManager reflects provider liveness in the bot's Discord presence
type StatusManager struct {
	session          BotSession
	logger           *slog.Logger
	mutex            sync.RWMutex
	currentStatus    discordgo.Status
	currentActivity  *discordgo.Activity
	pendingStatus    string
	flushTimer       *time.Timer
	lastUpdate       time.Time
	debounceInterval time.Duration
}

// NewStatusManager creates a new status manager
func NewStatusManager(session BotSession, logger *slog.Logger) *StatusManager {
	return &StatusManager{
		session:          session,
		logger:           logger,
		currentStatus:    discordgo.StatusOnline,
		debounceInterval: 30 * time.Second,
	}
}

// SetDebounceInterval configures the minimum time between presence updates
func (sm *StatusManager) SetDebounceInterval(interval time.Duration) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.debounceInterval = interval
}

// UpdateStatusFromHealth is a monitor.StatusCallback. A healthy local model shows
// the bot online; an unreachable one shows it idle.
func (sm *StatusManager) UpdateStatusFromHealth(providerID, status string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if wait := sm.debounceInterval - time.Since(sm.lastUpdate); wait > 0 {
		// The latest debounced status is applied once the window closes
		sm.pendingStatus = status
		if sm.flushTimer == nil {
			sm.flushTimer = time.AfterFunc(wait, func() { sm.flushPending(providerID) })
		}
		sm.logger.Debug("Status update debounced",
			"provider", providerID,
			"status", status,
			"retry_in", wait)
		return nil
	}

	var presence discordgo.Status
	var activity string
	switch status {
	case monitor.StatusNormal:
		presence, activity = discordgo.StatusOnline, ActivityReady
	case monitor.StatusUnavailable:
		presence, activity = discordgo.StatusIdle, ActivityOffline
	default:
		return fmt.Errorf("unknown status: %s", status)
	}

	if err := sm.setLocked(presence, activity); err != nil {
		sm.logger.Error("Failed to update Discord status",
			"provider", providerID,
			"status", status,
			"error", err)
		return err
	}

	sm.pendingStatus = ""
	sm.lastUpdate = time.Now()
	sm.logger.Info("Discord status updated",
		"provider", providerID,
		"health_status", status,
		"discord_status", presence,
		"activity", activity)

	return nil
}

func (sm *StatusManager) flushPending(providerID string) {
	sm.mutex.Lock()
	pending := sm.pendingStatus
	sm.flushTimer = nil
	sm.mutex.Unlock()

	if pending == "" {
		return
	}
	if err := sm.UpdateStatusFromHealth(providerID, pending); err != nil {
		sm.logger.Warn("Failed to apply debounced status", "provider", providerID, "error", err)
	}
}

// Stop cancels any pending debounced update
func (sm *StatusManager) Stop() {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	if sm.flushTimer != nil {
		sm.flushTimer.Stop()
		sm.flushTimer = nil
	}
	sm.pendingStatus = ""
}

// SetIdle sets the bot status to Idle with a custom activity. It does not open
// the debounce window, so the next health update applies at once.
func (sm *StatusManager) SetIdle(activity string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.setLocked(discordgo.StatusIdle, activity)
}

func (sm *StatusManager) setLocked(status discordgo.Status, activity string) error {
	activityObj := &discordgo.Activity{
		Name: activity,
		Type: discordgo.ActivityTypeGame,
	}

	if err := sm.session.UpdatePresence(status, activityObj); err != nil {
		return fmt.Errorf("failed to set %s status: %w", status, err)
	}

	sm.currentStatus = status
	sm.currentActivity = activityObj
	return nil
}
