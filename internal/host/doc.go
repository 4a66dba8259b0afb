// Package host runs a plugin bridge inside a long-lived process: a Runner
// serializes access and enforces call deadlines, a Watcher reloads the entry
// module on file changes, and a Scheduler calls script functions on cron
// schedules.
package host
