// Package persistence keeps device state that must survive a restart.
//
// After a successful bootstrap the received server credentials are saved
// so the next start can register directly. The state is a small JSON file;
// key material is stored as-is, so the file is written with mode 0600.
package persistence
