package core

import "errors"

var ErrCancelled = errors.New("operation cancelled")
var ErrIntegrityMismatch = errors.New("artifact checksum does not match expected digest")
var ErrAuthFailed = errors.New("decryption failed: wrong password or corrupted data")
var ErrCorruptFrame = errors.New("encrypted file framing is malformed")
var ErrUnsafePath = errors.New("archive entry resolves outside the restore destination")
var ErrConfigNotFound = errors.New("configuration not found")
var ErrScheduleInvalid = errors.New("invalid schedule expression")
var ErrPasswordRequired = errors.New("password is required for this encrypted backup")
var ErrOperationRunning = errors.New("an operation with this key is already running")
