// Package gps provides location fixes for the tracker.
//
// Every source implements Provider: a capability check plus an awaitable
// single-fix request that fails with a typed PositionError.
//
// Sources:
//   - Service: streaming reader for a USB serial NMEA receiver (RMC + GGA)
//     or a gpsd daemon (TPV + SKY).
//   - Browser: navigator.geolocation inside a headless Chrome.
package gps
