// Package fdms talks to the revenue authority's Fiscal Device Management System
// gateway and normalizes the error envelopes it returns.
//
// The gateway has shipped at least three error formats over time: a server
// wrapper with a "detail" field, bracket-coded messages such as
// "[FISC07] Fiscal day already closed", and legacy "FDMS error 422: ..." text.
// Classify accepts all of them and never fails.
package fdms
