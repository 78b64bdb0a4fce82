// Package crypto holds the device credential material: the ECDSA device
// key, the certificate signing request sent to the pairing API, and the
// client certificate handed back by it.
package crypto
