// Package property defines the value model shared by the local property
// cache and the broker transport, plus the BSON wire codec for payloads.
//
// Wire shape:
//   - individual value: {"v": <value>} with an optional {"t": <datetime>}
//   - object aggregation: {"v": {<key>: <value>, ...}}
//   - unset: an empty payload (zero bytes)
package property
