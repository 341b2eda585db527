// Package calendar stores calendar events and enforces who may change them.
//
// An event may be updated, moved, deleted or given attachments only by its
// creator or by a super_admin (CanModify). The check runs before any write;
// a refused caller gets ErrForbidden and nothing is stored.
package calendar
