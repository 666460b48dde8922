// Package scheduler turns task cron schedules into jobs.
//
// The Service keeps at most one armed one-shot timer per task, for the
// task's next occurrence inside a short lookahead window. A recurring sweep
// arms tasks whose next occurrence was previously out of range. When a timer
// fires the task is re-read from the store by id and a job is created unless
// one is already active.
//
// Cron evaluation (evaluator.go) is a thin layer over robfig/cron.
package scheduler
