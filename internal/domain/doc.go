// Package domain contains the plan task model, its preparation checklist
// and the notification audit record, together with the reminder window
// arithmetic shared by the scheduler and the edit path. It has no
// dependencies on storage or transport.
package domain
