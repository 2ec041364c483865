// Package types defines the record space, field, record and record dump
// entities, the storage and cache driver interfaces, configuration, and the
// error taxonomy shared by every shelf package.
package types
