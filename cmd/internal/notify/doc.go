// Package notify delivers offline push notifications.
//
// Sessions append a v1.NotificationRecord to the "notifications" queue topic whenever a
// message has a recipient other than its author. A Dispatcher drains that topic through a
// consumer group: a pool of workers reads entries, resolves the recipient's registered
// devices, pushes to each device through the push gateway and acknowledges the entry.
//
// Delivery is at-least-once. An entry that was read but never acknowledged is reclaimed by
// another worker once it has been idle for the claim interval, so pushes may repeat.
// The dispatcher writes nothing but queue acknowledgements.
package notify
