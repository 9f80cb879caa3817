package types

import (
	"errors"
	"fmt"
)

// Status is the lifecycle code of a file. Codes are persisted and exposed to
// front-ends, so they must never be renumbered.
type Status int

const (
	StatusFinished    Status = 0
	StatusOffline     Status = 1
	StatusOnline      Status = 2
	StatusQueued      Status = 3
	StatusChecking    Status = 4
	StatusWaiting     Status = 5
	StatusReconnected Status = 6
	StatusStarting    Status = 7
	StatusFailed      Status = 8
	StatusAborted     Status = 9
	StatusDecrypting  Status = 10
	StatusCustom      Status = 11
	StatusDownloading Status = 12
	StatusProcessing  Status = 13
	StatusUnknown     Status = 14
)

var ErrUnknownStatus = errors.New("unknown status")

var statusNames = map[string]Status{
	"finished":    StatusFinished,
	"offline":     StatusOffline,
	"online":      StatusOnline,
	"queued":      StatusQueued,
	"checking":    StatusChecking,
	"waiting":     StatusWaiting,
	"reconnected": StatusReconnected,
	"starting":    StatusStarting,
	"failed":      StatusFailed,
	"aborted":     StatusAborted,
	"decrypting":  StatusDecrypting,
	"custom":      StatusCustom,
	"downloading": StatusDownloading,
	"processing":  StatusProcessing,
	"unknown":     StatusUnknown,
}

var statusMessages = map[Status]string{
	StatusFinished:    "finished",
	StatusOffline:     "offline",
	StatusOnline:      "online",
	StatusQueued:      "queued",
	StatusChecking:    "checking",
	StatusWaiting:     "waiting",
	StatusReconnected: "reconnected",
	StatusStarting:    "starting",
	StatusFailed:      "failed",
	StatusAborted:     "aborted",
	StatusDecrypting:  "decrypting",
	StatusCustom:      "custom",
	StatusDownloading: "downloading",
	StatusProcessing:  "processing",
	StatusUnknown:     "unknown",
}

// ParseStatus maps a status name to its code.
func ParseStatus(name string) (Status, error) {
	code, ok := statusNames[name]
	if !ok {
		return StatusUnknown, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
	}
	return code, nil
}

// StatusNames returns every known status name.
func StatusNames() []string {
	names := make([]string, 0, len(statusNames))
	for name := range statusNames {
		names = append(names, name)
	}
	return names
}

func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Message is the human readable text shown as statusmsg.
func (s Status) Message() string {
	return s.String()
}

func (s Status) Valid() bool {
	_, ok := statusMessages[s]
	return ok
}

// Complete reports whether the status implies a fully transferred file.
func (s Status) Complete() bool {
	return s == StatusFinished || s == StatusChecking
}

// Active reports whether a worker is expected to be driving the file.
func (s Status) Active() bool {
	switch s {
	case StatusStarting, StatusDownloading, StatusDecrypting, StatusProcessing, StatusChecking:
		return true
	}
	return false
}

// Deferred reports whether the file is parked until its wait time elapses.
func (s Status) Deferred() bool {
	return s == StatusWaiting || s == StatusReconnected
}
