// Package accrual books membership fees as they fall due.
//
// For every elapsed billing period of a membership the Engine keeps exactly
// one due transaction that debits the fees-receivable account and credits
// the fees income account for the member. Periods older than the configured
// liability interval are left alone.
package accrual
