// Package httputil holds the response writers shared by the tracking
// handlers, so content types and write-error logging stay uniform.
package httputil
