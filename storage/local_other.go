//go:build !unix

package storage

import "os"

func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }

// Directory fsync is not available here; renames are as durable as the OS makes them.
func syncDir(string) error { return nil }
