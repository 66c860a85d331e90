// Package service contains the plan task use cases behind the HTTP API.
// It orchestrates the domain model, the stores defined in internal/store and
// the notification renderer and dispatcher.
//
// Key responsibilities:
//
// 1. Edit path:
//   - Create, update, delete and list plan tasks
//   - Reset the reminder latch in the same transaction whenever an edit
//     changes plan_time or reminder_minutes
//
// 2. Lifecycle:
//   - Apply start, complete and cancel actions with their timestamps
//
// 3. Notifications:
//   - Resolve webhook URLs from the configured alert robots
//   - Send test notifications without touching the store
//   - Expose the notification audit trail
//
// The service depends on store interfaces only, never on a specific
// database backend.
package service
