// Package members holds the member directory: members and the memberships
// that define what fee they owe and how often.
package members
