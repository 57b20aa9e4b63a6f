// Package taskrunner provides the demo workerproc.TaskRunner shipped with
// this module's CLI: a def dispatcher for three sample task kinds ("foo",
// "bar", "baz"), the last of which is the one the core design doc's
// end-to-end scenario submits. A real deployment is expected to supply its own
// TaskRunner; this one exists so `fcs work` does something observable
// out of the box.
package taskrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/Patryk27/free-churro-scheduler/internal/errs"
	"github.com/Patryk27/free-churro-scheduler/internal/task"
)

// def mirrors the {"ty": "..."} shape the core design doc's scenario
// submits as a task's def.
type def struct {
	Ty string `json:"ty"`
}

// Demo runs the three sample task kinds against an injected HTTP client
// and random source, so its "bar" behaviour (an outbound GET) is
// testable without hitting the network.
type Demo struct {
	Client *http.Client
	Rand   *rand.Rand
	Logger *slog.Logger

	// BarURL is the endpoint the "bar" task kind fetches. Overridable in
	// tests; defaults to the same endpoint the original scenario used.
	BarURL string
}

func NewDemo(logger *slog.Logger) *Demo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Demo{
		Client: http.DefaultClient,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		Logger: logger,
		BarURL: "https://www.whattimeisitrightnow.com",
	}
}

func (d *Demo) Run(ctx context.Context, t task.Task) error {
	var parsed def
	if err := json.Unmarshal(t.Def, &parsed); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrMalformedDef, err)
	}

	switch parsed.Ty {
	case "foo":
		return d.runFoo(ctx, t)
	case "bar":
		return d.runBar(ctx, t)
	case "baz":
		return d.runBaz(ctx, t)
	default:
		return fmt.Errorf("%w: unrecognized ty %q", errs.ErrMalformedDef, parsed.Ty)
	}
}

func (d *Demo) runFoo(ctx context.Context, t task.Task) error {
	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	d.Logger.Info("foo", "task", t.ID)
	return nil
}

func (d *Demo) runBar(ctx context.Context, t task.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BarURL, nil)
	if err != nil {
		return err
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	d.Logger.Info("bar", "task", t.ID, "status", resp.StatusCode)
	return nil
}

func (d *Demo) runBaz(ctx context.Context, t task.Task) error {
	n := d.Rand.Intn(344)
	d.Logger.Info("baz", "task", t.ID, "n", n)
	return nil
}
