package crashpipe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampFormat is the layout of crash_timestamp: UTC ISO-8601 with
// millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Platform is the normalized operating system family a crash happened on.
type Platform string

// The platforms known to the collection endpoint.
const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformOther   Platform = "other"
)

// NormalizePlatform maps a GOOS value, or an OS name as reported by other
// clients, onto a Platform.
func NormalizePlatform(osName string) Platform {
	switch strings.ToLower(strings.TrimSpace(osName)) {
	case "windows":
		return PlatformWindows
	case "darwin", "macos", "mac os x", "osx":
		return PlatformMacOS
	case "linux":
		return PlatformLinux
	case "android":
		return PlatformAndroid
	case "ios", "ipados":
		return PlatformIOS
	}
	return PlatformOther
}

// CrashReport is the record sent to the collection endpoint. The JSON field
// order is fixed by the struct and map keys are sorted by encoding/json, so
// marshalling the same report always yields the same bytes.
type CrashReport struct {
	AppName        string                 `json:"app_name"`
	AppVersion     string                 `json:"app_version"`
	Platform       Platform               `json:"platform"`
	CrashTimestamp string                 `json:"crash_timestamp"`
	ErrorMessage   string                 `json:"error_message"`
	StackTrace     string                 `json:"stack_trace"`
	HardwareSpecs  map[string]interface{} `json:"hardware_specs"`
	UserID         string                 `json:"user_id,omitempty"`
	SessionID      string                 `json:"session_id"`
}

// Time parses CrashTimestamp. Reports read back from the endpoint may have
// been produced by other clients, so a few ISO-8601 variants are accepted.
func (r *CrashReport) Time() (time.Time, error) {
	return ParseTimestamp(r.CrashTimestamp)
}

// UnmarshalJSON decodes a report written by any client. A field of the wrong
// JSON type doesn't fail the report, or the page it is part of: scalar fields
// keep the field's JSON text, so an epoch crash_timestamp becomes a timestamp
// that doesn't parse, and a hardware_specs that isn't an object is dropped.
// A record that isn't an object at all decodes to the zero report.
func (r *CrashReport) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		*r = CrashReport{}
		return nil
	}
	*r = CrashReport{
		AppName:        lenientString(fields["app_name"]),
		AppVersion:     lenientString(fields["app_version"]),
		Platform:       Platform(lenientString(fields["platform"])),
		CrashTimestamp: lenientString(fields["crash_timestamp"]),
		ErrorMessage:   lenientString(fields["error_message"]),
		StackTrace:     lenientString(fields["stack_trace"]),
		UserID:         lenientString(fields["user_id"]),
		SessionID:      lenientString(fields["session_id"]),
	}
	if raw, ok := fields["hardware_specs"]; ok {
		var specs map[string]interface{}
		if err := json.Unmarshal(raw, &specs); err == nil {
			r.HardwareSpecs = specs
		}
	}
	return nil
}

// lenientString returns the value of a JSON string, "" for null or a missing
// field, and the JSON text of anything else.
func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// FormatTimestamp formats t the way crash_timestamp is sent.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp. Timestamps without a zone are
// taken to be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", s)
}

// ReportInput is everything BuildReport needs to assemble a CrashReport.
type ReportInput struct {
	AppName    string
	AppVersion string
	Platform   Platform

	Err error
	// StackTrace overrides the trace derived from Err.
	StackTrace string

	UserID    string
	SessionID string

	Hardware HardwareSnapshot
	// Context is merged into the hardware specs. Its keys win on collision.
	Context map[string]interface{}

	// Now is the crash time. Defaults to time.Now.
	Now time.Time
}

// BuildReport assembles a CrashReport. A session ID is generated if none is
// given.
func BuildReport(in ReportInput) *CrashReport {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	r := &CrashReport{
		AppName:        in.AppName,
		AppVersion:     in.AppVersion,
		Platform:       in.Platform,
		CrashTimestamp: FormatTimestamp(now),
		StackTrace:     in.StackTrace,
		HardwareSpecs:  mergeSpecs(in.Hardware, in.Context),
		UserID:         in.UserID,
		SessionID:      in.SessionID,
	}
	if r.Platform == "" {
		r.Platform = PlatformOther
	}
	if in.Err != nil {
		r.ErrorMessage = in.Err.Error()
		if r.StackTrace == "" {
			r.StackTrace = stackTraceOf(in.Err)
		}
	}
	if r.SessionID == "" {
		r.SessionID = newSessionID()
	}
	return r
}

// mergeSpecs flattens the snapshot into a generic map, the same shape it has
// on the wire, and lays the extra context over it.
func mergeSpecs(snap HardwareSnapshot, extra map[string]interface{}) map[string]interface{} {
	specs := map[string]interface{}{}
	if b, err := json.Marshal(snap); err == nil {
		_ = json.Unmarshal(b, &specs) // A marshalled struct always unmarshals into a map.
	}
	for k, v := range extra {
		specs[k] = v
	}
	return specs
}

// Marshal returns the canonical serialization of the report. These are the
// exact bytes that are signed and sent.
// Hardware spec values that cannot be represented as JSON, typically extra
// context supplied by the caller, are replaced by their fmt.Sprint form.
func (r *CrashReport) Marshal() ([]byte, error) {
	b, err := json.Marshal(r)
	if err == nil {
		return b, nil
	}
	cp := *r
	cp.HardwareSpecs = make(map[string]interface{}, len(r.HardwareSpecs))
	for k, v := range r.HardwareSpecs {
		if _, vErr := json.Marshal(v); vErr != nil {
			v = fmt.Sprint(v)
		}
		cp.HardwareSpecs[k] = v
	}
	if b, err = json.Marshal(&cp); err != nil {
		return nil, fmt.Errorf("unable to marshal crash report: %w", err)
	}
	return b, nil
}
