// Package audit appends a row for every privileged action taken through
// the portal.
//
// Writes never block the action they record: a failed audit insert is
// logged and swallowed. The table is append-only; nothing in the portal
// updates or deletes rows. Readback is paginated and filterable by
// entity and actor for the admin surface.
package audit
