// Package handlers implements the HTTP handlers of the review service.
package handlers
