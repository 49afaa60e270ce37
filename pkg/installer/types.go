// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import "time"

// Model formats understood by the installer and the registry.
const (
	// FormatCheckpoint is a single-file weights checkpoint. Descriptors
	// with this format must declare a File.
	FormatCheckpoint = "checkpoint"

	// FormatDiffusionPipeline is a multi-file pipeline repository that is
	// snapshotted wholesale from the Hub.
	FormatDiffusionPipeline = "diffusion-pipeline"
)

// ModelDescriptor identifies one installable model from the catalog.
//
// Descriptors are loaded once at startup from the catalog YAML and are
// immutable for the duration of a run.
type ModelDescriptor struct {
	// ID is the unique model name, taken from the catalog mapping key.
	ID string `yaml:"-"`

	// Description is the human-readable one-liner shown during selection
	// and copied into the registry stanza.
	Description string `yaml:"description"`

	// Format is one of FormatCheckpoint or FormatDiffusionPipeline.
	Format string `yaml:"format"`

	// SourceReference is the Hub repository ID in "owner/name" format.
	SourceReference string `yaml:"source_reference"`

	// File is the weights filename within the repository. Required for
	// checkpoint models, unused for pipelines.
	File string `yaml:"file,omitempty"`

	// Config is the per-format inference config filename, resolved
	// against the configs directory when the registry is written.
	Config string `yaml:"config,omitempty"`

	// Width and Height are the trained image dimensions, when known.
	Width  int `yaml:"width,omitempty"`
	Height int `yaml:"height,omitempty"`

	// Recommended marks models included in the default selection.
	Recommended bool `yaml:"recommended,omitempty"`

	// Companion is an optional paired model (e.g. a standalone VAE)
	// downloaded alongside this one and referenced from its stanza.
	Companion *CompanionRef `yaml:"companion,omitempty"`
}

// CompanionRef points at a companion model, either a single file inside
// a Hub repository or a bare repository reference.
type CompanionRef struct {
	SourceReference string `yaml:"source_reference"`
	File            string `yaml:"file,omitempty"`
}

// Outcome records the result of installing a single model.
type Outcome struct {
	// ID is the model identifier from the catalog.
	ID string `json:"id"`

	// Path is the resolved local path on success: the weights file for
	// checkpoints, the snapshot directory for pipelines.
	Path string `json:"path,omitempty"`

	// Err is non-nil when the install failed. The partial download stays
	// on disk so a later run can resume it.
	Err error `json:"-"`
}

// Outcomes is an ordered collection of results, one per selected model,
// in processing order. Order matters: the registry synchronizer assigns
// the default marker to the first successful model.
type Outcomes []Outcome

// Succeeded returns the successful outcomes in processing order.
func (o Outcomes) Succeeded() []Outcome {
	var out []Outcome
	for _, oc := range o {
		if oc.Err == nil {
			out = append(out, oc)
		}
	}
	return out
}

// Failed returns the failed outcomes in processing order.
func (o Outcomes) Failed() []Outcome {
	var out []Outcome
	for _, oc := range o {
		if oc.Err != nil {
			out = append(out, oc)
		}
	}
	return out
}

// Settings configures transfer behavior. All fields have sensible
// defaults; a zero Settings is usable after DefaultSettings merging.
type Settings struct {
	// Endpoint is the Hub base URL. Defaults to the public Hub.
	Endpoint string

	// Token is the Hub access token for gated repositories, attached as
	// a bearer authorization header when non-empty.
	Token string

	// ChunkSize is the copy buffer size in bytes for streaming bodies.
	ChunkSize int

	// MinContentLength is the smallest advertised length accepted for a
	// weights file. Shorter responses are gated/redirected error pages
	// masquerading as content and are rejected.
	MinContentLength int64

	// Retries is the number of whole-file re-invocations the install
	// driver performs after a transient failure. Each re-invocation
	// resumes from the bytes already on disk. A single Fetch call never
	// retries internally.
	Retries int

	// BackoffInitial and BackoffMax bound the exponential backoff between
	// driver retries. Duration strings such as "400ms" and "10s".
	BackoffInitial string
	BackoffMax     string

	// ConnectTimeout and ReadTimeout are made explicit rather than
	// relying on transport defaults. ReadTimeout bounds the wait for
	// response headers, not the body transfer itself.
	ConnectTimeout string
	ReadTimeout    string
}

// DefaultSettings returns Settings with defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:         DefaultEndpoint,
		ChunkSize:        64 << 10,
		MinContentLength: 2000,
		Retries:          2,
		BackoffInitial:   "400ms",
		BackoffMax:       "10s",
		ConnectTimeout:   "10s",
		ReadTimeout:      "30s",
	}
}

// ProgressEvent represents a progress update during installation.
//
// The Event field indicates the type:
//   - "model_start": installation of a model has begun
//   - "model_done": a model finished (check Message for skip/error info)
//   - "scan_start": a pipeline repository tree scan has begun
//   - "file_start": transfer of a file has started (or resumed)
//   - "file_progress": periodic update during transfer
//   - "file_done": a file is fully present locally
//   - "retry": the driver is re-invoking a failed fetch
//   - "error": an error occurred
//   - "done": the batch finished
type ProgressEvent struct {
	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Level is "info", "warn" or "error". Empty defaults to "info".
	Level string `json:"level,omitempty"`

	// Event is the event type identifier.
	Event string `json:"event"`

	// Model is the catalog ID of the model being processed.
	Model string `json:"model,omitempty"`

	// Path is the file being transferred, relative to its destination.
	Path string `json:"path,omitempty"`

	// Downloaded is the cumulative local byte count, seeded at the
	// resume offset when a partial file was found.
	Downloaded int64 `json:"downloaded,omitempty"`

	// Total is the expected final size. Zero when the server did not
	// advertise a length; progress is then an unbounded counter.
	Total int64 `json:"total,omitempty"`

	// Attempt is the 1-based retry attempt, set on "retry" events.
	Attempt int `json:"attempt,omitempty"`

	// Message carries additional context or error details.
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress events. Passing nil disables progress
// reporting. Events arrive from the single installing goroutine, in
// order.
type ProgressFunc func(ProgressEvent)
