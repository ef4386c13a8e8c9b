// Package api holds the HTTP data transfer types of the review service.
package api
