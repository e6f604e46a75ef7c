package pipeline

import (
	"errors"
	"fmt"
)

// Stage names one step of a flow.
type Stage string

const (
	StageFetch        Stage = "fetch"
	StageEncode       Stage = "encode"
	StageAuthenticate Stage = "authenticate"
	StageUpload       Stage = "upload"
	StageMerge        Stage = "merge"
	StagePrune        Stage = "prune"
)

// Flow names a pipeline.
type Flow string

const (
	FlowAppend Flow = "append"
	FlowDelete Flow = "delete"
)

// ErrUnsupportedFeed is returned for feed types outside the configured list. No
// network call is made for them.
var ErrUnsupportedFeed = errors.New("unsupported feed type")

// StageError records which stage stopped a flow.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Local reports whether the failure happened on this host rather than upstream.
func (e *StageError) Local() bool { return e.Stage == StageEncode }
