// Package gps reads NMEA sentences from a serial GNSS receiver.
//
// RMC supplies position, ground speed, track and the UTC second; GGA
// supplies altitude, fix quality and satellites. Each RMC time stamp is
// handed to a timeref.Tracker so the slot scheduler can align to UTC, with
// PPS edges (when wired) refining the start of second.
package gps
