// Package notifications delivers run milestones via ntfy.
//
// NewService publishes to the topic URL configured in config.toml and degrades
// to a no-op when notifications are disabled. RunRecorder adapts a Service to
// optimizer.Recorder so batch runs announce their start, completion and
// aborts without the orchestrator knowing about HTTP.
package notifications
