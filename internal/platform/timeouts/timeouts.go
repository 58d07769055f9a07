// Package timeouts defines shared timeout constants used across commands.
package timeouts

import "time"

// TelemetryShutdown limits how long a command waits for spans to flush.
const TelemetryShutdown = 5 * time.Second

// ScenarioStep caps one scripted scenario step, including any choice it
// waits on.
const ScenarioStep = 10 * time.Second
