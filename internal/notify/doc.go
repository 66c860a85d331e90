// Package notify renders plan task reminders and delivers them to chat-robot
// webhooks.
//
// Render is a pure function from a template and task values to a markdown
// message. WebhookDispatcher posts a rendered message and classifies the
// outcome: only a JSON response carrying errcode 0 counts as delivered.
package notify
