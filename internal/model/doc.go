// Package model holds the audit record and the request/response shapes of
// the vault API.
package model
