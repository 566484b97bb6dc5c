package wal

import "errors"

var errCRCMismatch = errors.New("wal: crc mismatch")
