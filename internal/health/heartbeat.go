// Package health reports engine liveness to an external monitor.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/inaiurai/bidengine/internal/models"
)

// StatusFunc returns the current engine snapshot.
type StatusFunc func() models.EngineStatus

type Beat struct {
	Service   string              `json:"service"`
	Timestamp time.Time           `json:"timestamp"`
	Engine    models.EngineStatus `json:"engine"`
}

// Reporter posts a Beat to URL on every call to Report. With no URL the
// beat is only logged.
type Reporter struct {
	url    string
	status StatusFunc
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

func NewReporter(url string, status StatusFunc, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		url:    url,
		status: status,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		now:    time.Now,
	}
}

func (r *Reporter) Report(ctx context.Context) error {
	beat := Beat{Service: "bidengine", Timestamp: r.now().UTC(), Engine: r.status()}
	r.log.Info("heartbeat",
		"is_running", beat.Engine.IsRunning,
		"cycle_count", beat.Engine.CycleCount,
		"seconds_until_next_cycle", beat.Engine.SecondsUntilNextCycle,
	)
	if r.url == "" {
		return nil
	}
	payload, err := json.Marshal(beat)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat: monitor returned %d", resp.StatusCode)
	}
	return nil
}
