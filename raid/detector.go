package raid

import (
	"context"
	"fmt"
	"log/slog"

	"chatwarden/model"
)

// ActivityStore is the append/query surface the detector needs.
type ActivityStore interface {
	AppendActivity(ctx context.Context, rec model.ActivityRecord) error
	ActivitySince(ctx context.Context, chatID, userID string, t model.ActivityType, sinceMs int64) ([]model.ActivityRecord, error)
	AppendJoin(ctx context.Context, rec model.JoinRecord) error
	CountJoinsSince(ctx context.Context, chatID string, sinceMs int64) (int, error)
}

// IncidentLog stores detections.
type IncidentLog interface {
	LogIncident(ctx context.Context, inc model.RaidIncident) (int64, error)
}

// Detector classifies inbound events over trailing windows. The event being
// classified is stored first, so it counts toward its own window.
type Detector struct {
	activity  ActivityStore
	incidents IncidentLog
	config    func(chatID string) model.ChatConfig
	log       *slog.Logger
}

func NewDetector(activity ActivityStore, incidents IncidentLog, config func(chatID string) model.ChatConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		activity:  activity,
		incidents: incidents,
		config:    config,
		log:       logger.With("component", "raid_detector"),
	}
}

// Classify records ev and returns the incident it triggered, if any. The
// incident is persisted before Classify returns.
func (d *Detector) Classify(ctx context.Context, ev model.ActivityEvent) (*model.RaidIncident, error) {
	fp, ok := Fingerprint(ev)
	if !ok {
		return nil, nil
	}
	atMs := ev.At.UnixMilli()
	err := d.activity.AppendActivity(ctx, model.ActivityRecord{
		ChatID:       ev.ChatID,
		UserID:       ev.UserID,
		ActivityType: ev.Type,
		Fingerprint:  fp,
		CreatedAtMs:  atMs,
	})
	if err != nil {
		return nil, err
	}

	limit := d.config(ev.ChatID).LimitFor(ev.Type)
	if !limit.Enabled() {
		return nil, nil
	}
	records, err := d.activity.ActivitySince(ctx, ev.ChatID, ev.UserID, ev.Type, atMs-limit.Window().Milliseconds())
	if err != nil {
		return nil, err
	}

	count := 0
	for _, r := range records {
		if r.CreatedAtMs > atMs {
			continue
		}
		// text only counts identical fingerprints
		if ev.Type == model.ActivityText && r.Fingerprint != fp {
			continue
		}
		count++
	}
	if count < limit.Limit {
		return nil, nil
	}

	inc := model.RaidIncident{
		ChatID:      ev.ChatID,
		UserID:      ev.UserID,
		RaidType:    model.RaidTypeFor(ev.Type),
		Details:     fmt.Sprintf("%d %s events in %ds (limit %d)", count, ev.Type, limit.WindowSeconds, limit.Limit),
		CreatedAtMs: atMs,
	}
	return d.logIncident(ctx, inc)
}

// ClassifyJoin records a join and returns a chat-wide mass_join incident
// when the chat's join window is at or over its limit.
func (d *Detector) ClassifyJoin(ctx context.Context, ev model.JoinEvent) (*model.RaidIncident, error) {
	atMs := ev.At.UnixMilli()
	if err := d.activity.AppendJoin(ctx, model.JoinRecord{ChatID: ev.ChatID, UserID: ev.UserID, CreatedAtMs: atMs}); err != nil {
		return nil, err
	}

	limit := d.config(ev.ChatID).Join
	if !limit.Enabled() {
		return nil, nil
	}
	count, err := d.activity.CountJoinsSince(ctx, ev.ChatID, atMs-limit.Window().Milliseconds())
	if err != nil {
		return nil, err
	}
	if count < limit.Limit {
		return nil, nil
	}

	inc := model.RaidIncident{
		ChatID:      ev.ChatID,
		RaidType:    model.RaidMassJoin,
		Details:     fmt.Sprintf("%d joins in %ds (limit %d)", count, limit.WindowSeconds, limit.Limit),
		CreatedAtMs: atMs,
	}
	return d.logIncident(ctx, inc)
}

func (d *Detector) logIncident(ctx context.Context, inc model.RaidIncident) (*model.RaidIncident, error) {
	id, err := d.incidents.LogIncident(ctx, inc)
	if err != nil {
		return nil, err
	}
	inc.ID = id
	incidentCount.WithLabelValues(string(inc.RaidType)).Inc()
	d.log.Warn("raid detected", "chat", inc.ChatID, "user", inc.UserID, "type", inc.RaidType, "details", inc.Details)
	return &inc, nil
}
