package crashpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
)

// Outcome is where a report ended up.
type Outcome int

const (
	// OutcomeDropped means the report could neither be delivered nor stored.
	OutcomeDropped Outcome = iota
	// OutcomeDelivered means the endpoint accepted the report.
	OutcomeDelivered
	// OutcomeStoredLocally means the report is waiting in the local queue.
	OutcomeStoredLocally
)

var outcomeNames = [...]string{"dropped", "delivered", "stored locally"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

const maxErrorBody = 4 << 10

// Deliver makes a single attempt at sending report, bounded by
// Configuration.Timeout. Only HTTP 200 counts as delivered; anything else,
// including HTTP 429, puts the report in the local queue.
func (r *Reporter) Deliver(ctx context.Context, report *CrashReport) (outcome Outcome) {
	defer r.guard("Deliver")

	payload, err := report.Marshal()
	if err != nil {
		r.internalError(err, "unable to serialize crash report")
		return OutcomeDropped
	}

	if ctx == nil {
		ctx = context.Background()
	}
	// Note we're detaching from the caller's cancellation here to avoid
	// confusing bugs ala "my crashes aren't being reported" due to the ctx
	// (usually derived from a request) having already been canceled by the
	// time the report is sent. The attempt is still bounded by the timeout.
	if err := r.send(context.WithoutCancel(ctx), payload); err != nil {
		log := r.cfg.Logger.WithError(err)
		var terr *TransportError
		if errors.As(err, &terr) && terr.RateLimited() {
			log = log.WithField("rate_limited", true)
		}
		log.Warn("crash report not delivered, storing locally")
		return r.storePayload(payload)
	}
	r.cfg.Logger.WithField("session_id", report.SessionID).Info("crash report delivered")
	return OutcomeDelivered
}

// StoreLocally puts report in the local queue without attempting delivery.
// Failures are logged and passed to the InternalErrorCallback.
func (r *Reporter) StoreLocally(report *CrashReport) {
	defer r.guard("StoreLocally")

	payload, err := report.Marshal()
	if err != nil {
		r.internalError(err, "unable to serialize crash report")
		return
	}
	r.storePayload(payload)
}

func (r *Reporter) storePayload(payload []byte) Outcome {
	entry, err := r.queue.Enqueue(payload)
	if err != nil {
		r.internalError(err, "unable to store crash report locally, report lost")
		return OutcomeDropped
	}
	r.cfg.Logger.WithField("entry", entry.Name).Info("crash report stored locally")
	return OutcomeStoredLocally
}

// ReplayLocal attempts to deliver every queued report, oldest first, and
// returns how many were delivered. Each entry gets up to
// Configuration.ReplayAttempts attempts with jittered exponential backoff in
// between. Delivered entries are removed; the rest stay queued for the next
// replay. Replay stops early once ctx is done.
func (r *Reporter) ReplayLocal(ctx context.Context) (delivered int) {
	defer r.guard("ReplayLocal")

	entries, err := r.queue.Entries()
	if err != nil {
		r.internalError(err, "unable to list local crash reports")
		return 0
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		payload, err := r.queue.Read(e)
		if err != nil {
			// Another replay got here first.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			r.internalError(err, "unable to read local crash report")
			continue
		}
		if err := r.sendWithRetries(ctx, payload); err != nil {
			r.cfg.Logger.WithError(err).WithField("entry", e.Name).Warn("unable to replay crash report, keeping it queued")
			continue
		}
		if err := r.queue.Remove(e); err != nil {
			// The report has been delivered; a later replay will send it again.
			r.internalError(err, "unable to remove replayed crash report")
		}
		r.cfg.Logger.WithField("entry", e.Name).Info("replayed local crash report")
		delivered++
	}
	return delivered
}

func (r *Reporter) sendWithRetries(ctx context.Context, payload []byte) error {
	b := &backoff.Backoff{
		Min:    r.cfg.ReplayBackoffMin,
		Max:    r.cfg.ReplayBackoffMax,
		Factor: 2,
		Jitter: true,
	}
	var err error
	for attempt := 1; attempt <= r.cfg.ReplayAttempts; attempt++ {
		if err = r.send(ctx, payload); err == nil {
			return nil
		}
		if attempt == r.cfg.ReplayAttempts {
			break
		}
		wait := b.Duration()
		r.cfg.Logger.WithError(err).WithField("attempt", attempt).WithField("wait", wait).Debug("retrying crash report")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// send performs one signed POST of payload. The payload bytes are signed
// and sent as they are; they must never be re-serialized in between.
func (r *Reporter) send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Op: "deliver", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-HMAC-Signature", SignatureHeader(r.cfg.Secret, payload))
	req.Header.Set("X-App-Name", r.cfg.AppName)
	if r.cfg.AppVersion != "" {
		req.Header.Set("X-App-Version", r.cfg.AppVersion)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return &TransportError{Op: "deliver", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &TransportError{Op: "deliver", StatusCode: res.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
