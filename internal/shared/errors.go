package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrRateLimited        = fmt.Errorf("rate limited")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTrackNotFound      = fmt.Errorf("track not found")

	// Storage errors
	ErrCacheMiss        = fmt.Errorf("cache miss")
	ErrRecordNotFound   = fmt.Errorf("record not found")
	ErrAnalysisNotFound = fmt.Errorf("analysis not found")

	// Precondition errors
	ErrConfirmationRequired = fmt.Errorf("confirmation required to create playlists")
	ErrNoTracks             = fmt.Errorf("no tracks found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// Kind classifies an [Error] so callers can switch on it without matching strings.
type Kind int

const (
	KindUnknown    Kind = iota
	KindTransient       // retryable external failure
	KindTerminal        // retries exhausted
	KindPermission      // caller did not confirm a mutating operation
	KindNotFound        // referenced record does not exist
	KindValidation      // malformed input
	KindStage           // a workflow stage failed; see [Error.Stage]
	KindPipeline        // the playlist pipeline could not start
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindStage:
		return "stage"
	case KindPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// Stage names a phase of the analysis workflow.
type Stage string

const (
	StageInitialization   Stage = "initialization"
	StageTrackLoading     Stage = "track_loading"
	StageGenreAnalysis    Stage = "genre_analysis"
	StagePlaylistCreation Stage = "playlist_creation"
)

// Error is the tagged error type returned across package boundaries.
type Error struct {
	Kind  Kind
	Stage Stage  // set when Kind is KindStage
	Op    string // operation that failed, e.g. "pipeline.create_playlists"
	Err   error
}

func (e *Error) Error() string {
	var prefix string
	switch {
	case e.Stage != "":
		prefix = fmt.Sprintf("%s: %s", e.Stage, e.Op)
	case e.Op != "":
		prefix = e.Op
	default:
		prefix = e.Kind.String()
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// StageError wraps err as a failure of the given workflow stage.
//
// An error already tagged with a stage keeps its original stage.
func StageError(stage Stage, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Stage != "" {
		return err
	}
	return &Error{Kind: KindStage, Stage: stage, Op: op, Err: err}
}

// KindOf returns the kind of the outermost [Error] in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StageOf returns the stage of the first staged [Error] in err's chain.
func StageOf(err error) Stage {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Stage != "" {
			return e.Stage
		}
		err = e.Err
	}
	return ""
}

// IsKind reports whether any [Error] in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
