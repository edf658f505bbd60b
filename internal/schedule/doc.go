// Package schedule runs exports on cron schedules, submitting each
// fire through the background task manager.
package schedule
