// Package jobs schedules the periodic maintenance tasks: the board
// consistency check and the role registry refresh.
//
// Jobs run on robfig/cron schedules and once at start. A job with an empty
// schedule is disabled. Overlapping runs of one job are skipped.
package jobs
