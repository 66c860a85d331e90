// Package reminder runs the background loop that delivers plan task
// reminders.
//
// Each cycle loads the candidate tasks, keeps those whose reminder window
// [PlanTime - ReminderMinutes, PlanTime + GracePeriod] contains the current
// time, and dispatches one webhook per due task. A successful dispatch sets
// the task's reminder_sent latch; a failed one is audited and retried on the
// next cycle for as long as the window stays open.
package reminder
