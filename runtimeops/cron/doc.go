// Package cron parses recurrence rules for the task orchestrator's default
// scheduling collaborator.
//
// Two rule forms are supported: standard 5-field cron expressions
// ("*/5 * * * *") with minute resolution, and fixed-interval rules
// ("@every 30s") for sub-minute periods. Both yield a Schedule that computes
// the next execution time after a reference time, always in UTC.
package cron
