// Package discovery announces and finds entity servers with mDNS/DNS-SD.
//
// Entity servers register an instance of _iotauth-entity._tcp. The TXT
// record carries the entity name (name), the number of keys requested per
// session (nk), the transport (proto=TCP) and optionally the Auth address
// (auth) and software version (ver).
//
// Advertisement is optional; clients that know the server address do not
// need it.
package discovery
