// Package sounding defines the core types shared by the radiosounding download
// pipeline: requests, results, the ordered result collection, the public
// endpoint layout, and the error taxonomy used across subsystems.
package sounding
